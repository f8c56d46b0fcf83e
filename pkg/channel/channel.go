package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// Channel is one logical stream or endpoint of a device.
// All methods are safe for concurrent use.
type Channel struct {
	id     string
	kind   Kind
	hooks  Hooks
	opts   options
	logger log.Logger

	flags flagState
	lc    lifecycle
	gate  applyGate
	refs  refCount

	ownerMu sync.Mutex
	owner   Owner
}

// New creates a channel with the given hooks. An empty id is replaced with a
// random UUID. Nil hooks behave as BaseHooks.
//
// The caller holds the owner reference and must eventually call Release.
func New(id string, kind Kind, hooks Hooks, opts ...Option) *Channel {
	if id == "" {
		id = uuid.NewString()
	}
	if hooks == nil {
		hooks = BaseHooks{}
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Channel{
		id:    id,
		kind:  kind,
		hooks: hooks,
		opts:  o,
		owner: o.owner,
		logger: o.logger.With(
			log.String("channel", id),
			log.String("kind", kind.String()),
		),
	}
	c.flags.v.Store(uint32(FlagApplicationActive))
	c.lc.init()
	c.gate.init()
	c.refs.init()
	return c
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Kind returns the channel kind.
func (c *Channel) Kind() Kind { return c.kind }

// Hooks returns the hooks the channel was created with.
func (c *Channel) Hooks() Hooks { return c.hooks }

// Logger returns the channel logger. Hooks use it so entries carry the
// channel id and kind.
func (c *Channel) Logger() log.Logger { return c.logger }

// Owner returns the owner, or nil once finalization has released it.
func (c *Channel) Owner() Owner {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	return c.owner
}

// String implements fmt.Stringer.
func (c *Channel) String() string {
	return fmt.Sprintf("%s(%s)", c.kind, c.id)
}

// Flags returns a snapshot of the channel flags.
func (c *Channel) Flags() Flags { return c.flags.load() }

// EnvironmentReady reports whether the channel should be running.
func (c *Channel) EnvironmentReady() bool { return c.flags.load().EnvironmentReady() }

// IsStarted reports whether the start has been confirmed and not yet undone.
func (c *Channel) IsStarted() bool { return c.flags.load().Has(FlagStarted) }

// HasSignal reports whether the driver currently reports signal.
func (c *Channel) HasSignal() bool { return c.flags.load().Has(FlagSignal) }

// SetEnabled enables or disables the channel. Disabling blocks until the
// channel has stopped.
func (c *Channel) SetEnabled(v bool) { c.setFlag(FlagEnabled, v) }

// SetDeviceConnected records device connectivity.
func (c *Channel) SetDeviceConnected(v bool) { c.setFlag(FlagDeviceConnected, v) }

// SetSinkConnected records whether a consumer is attached.
func (c *Channel) SetSinkConnected(v bool) { c.setFlag(FlagSinkConnected, v) }

func (c *Channel) setFlag(mask Flags, on bool) {
	old, cur, acts := c.flags.update(mask, on)
	if old == cur {
		return
	}
	c.logger.Debug("flags changed",
		log.Flags("old", uint32(old)),
		log.Flags("new", uint32(cur)))

	for _, a := range acts {
		switch a {
		case actionEnabled:
			c.hooks.OnEnabled(c)
		case actionDisable:
			c.PostStop()
			c.WaitForStop()
			c.hooks.OnDisabled(c)
		case actionStart:
			c.PostStart()
			// A concurrent stop edge may have run first and been skipped.
			if !c.EnvironmentReady() {
				c.PostStop()
			}
		case actionStop:
			c.PostStop()
			if c.EnvironmentReady() {
				c.PostStart()
			}
		}
	}
}

// Notify delivers a semantic state notification. A panicking notifier is
// logged and contained.
func (c *Channel) Notify(state notify.State, src driver.Source, code driver.Code) {
	n := c.opts.notifier
	if n == nil {
		return
	}
	ev := notify.Event{
		ID:        uuid.NewString(),
		ChannelID: c.id,
		Kind:      c.kind.String(),
		State:     state,
		Code:      code,
		Source:    src,
		Time:      time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notifier panicked",
				log.String("state", state.String()),
				log.Any("panic", r))
		}
	}()
	n.Notify(ev)
}
