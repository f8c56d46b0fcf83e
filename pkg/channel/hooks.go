package channel

import (
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// Hooks is the per-kind behaviour of a channel.
//
// DoStart and DoStop run on a dispatcher worker. They issue the driver call
// and return; the driver confirms later through RaiseChannelStarted and
// RaiseChannelStopped (or the driver.Events methods). A returned error is
// treated as a failure for DoStart and as an immediate stop for DoStop.
//
// The remaining methods are notifications and must not block.
type Hooks interface {
	DoStart(c *Channel) error
	DoStop(c *Channel) error
	OnStarted(c *Channel)
	OnStopped(c *Channel)
	OnEnabled(c *Channel)
	OnDisabled(c *Channel)
	OnFinalized(c *Channel)
	ApplyCompleted(c *Channel, src driver.Source, code driver.Code)
}

// Destroyer is implemented by hooks that want to observe destruction.
type Destroyer interface {
	OnDestroyed(c *Channel)
}

// SettingsSource is implemented by hooks that own a settings adjuster.
type SettingsSource interface {
	Adjuster() driver.Adjuster
}

// Owner is the entity that created a channel. ChannelReleased is called once,
// at the end of finalization.
type Owner interface {
	ChannelReleased(c *Channel)
}

// BaseHooks provides defaults for channels with no hardware behind them:
// starts and stops confirm immediately. Embed it to override selectively.
type BaseHooks struct{}

// DoStart confirms the start immediately.
func (BaseHooks) DoStart(c *Channel) error {
	c.RaiseChannelStarted()
	return nil
}

// DoStop confirms the stop immediately.
func (BaseHooks) DoStop(c *Channel) error {
	c.RaiseChannelStopped()
	return nil
}

func (BaseHooks) OnStarted(*Channel)   {}
func (BaseHooks) OnStopped(*Channel)   {}
func (BaseHooks) OnEnabled(*Channel)   {}
func (BaseHooks) OnDisabled(*Channel)  {}
func (BaseHooks) OnFinalized(*Channel) {}

// ApplyCompleted reports failed applies through the channel notifier.
func (BaseHooks) ApplyCompleted(c *Channel, src driver.Source, code driver.Code) {
	state, ok := notify.FromCode(code)
	if !ok {
		return
	}
	c.logger.Warn("apply completed with error",
		log.String("source", string(src)),
		log.String("code", code.String()))
	c.Notify(state, src, code)
}
