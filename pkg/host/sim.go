package host

import (
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/driver/sim"
)

func simFactory(cc ChannelConfig) driver.Factory {
	return sim.Factory(cc.simConfig())
}

// updateDriver pushes new simulated settings to a running channel's driver.
func (h *Host) updateDriver(c *channel.Channel, cc ChannelConfig) {
	dh, ok := c.Hooks().(*channel.DriverHooks)
	if !ok {
		return
	}
	if d, ok := dh.Driver.(*sim.Driver); ok {
		next := cc.simConfig()
		d.Update(func(cfg *sim.Config) { *cfg = next })
	}
}
