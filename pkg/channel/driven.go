package channel

import "github.com/bft-labs/devchannel/pkg/driver"

// DriverHooks drives a channel through a driver.Driver. Embed it in kind
// specific hooks and set Driver before the channel is enabled.
type DriverHooks struct {
	BaseHooks
	Driver driver.Driver
}

// DoStart issues the driver start.
func (h *DriverHooks) DoStart(c *Channel) error {
	return h.Driver.Start()
}

// DoStop waits for outstanding applies, then issues the driver stop.
func (h *DriverHooks) DoStop(c *Channel) error {
	c.WaitForApply()
	return h.Driver.Stop()
}

// Adjuster implements SettingsSource.
func (h *DriverHooks) Adjuster() driver.Adjuster {
	if h.Driver == nil {
		return nil
	}
	return h.Driver
}

// NewDriven creates a channel backed by the driver factory builds. The driver
// reports to the channel through driver.Events.
func NewDriven(id string, kind Kind, factory driver.Factory, opts ...Option) *Channel {
	h := &DriverHooks{}
	c := New(id, kind, h, opts...)
	h.Driver = factory(c)
	return c
}

var (
	_ driver.Events            = (*Channel)(nil)
	_ driver.CompletionHandler = (*Channel)(nil)
	_ Hooks                    = (*DriverHooks)(nil)
	_ SettingsSource           = (*DriverHooks)(nil)
)
