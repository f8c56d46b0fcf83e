package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/devchannel/pkg/broadcast"
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// DefaultCloseTimeout bounds Close.
const DefaultCloseTimeout = 30 * time.Second

// Device errors.
var (
	ErrDuplicateChannel = errors.New("devchannel: duplicate channel id")
	ErrUnknownChannel   = errors.New("devchannel: unknown channel")
	ErrClosed           = errors.New("devchannel: device closed")
	ErrCloseTimeout     = errors.New("devchannel: device close timeout")
)

// Spec describes a channel to create.
type Spec struct {
	// ID must be unique within the device. Empty generates a UUID.
	ID   string
	Kind channel.Kind

	// Driver, when set, backs the channel with a driver. Otherwise Hooks is
	// used, and nil Hooks gives a channel with no hardware behind it.
	Driver driver.Factory
	Hooks  channel.Hooks

	// Options are applied after the device defaults.
	Options []channel.Option
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger shared with every channel.
func WithLogger(l log.Logger) Option {
	return func(d *Device) { d.logger = log.OrNoop(l) }
}

// WithDispatcher sets the dispatcher shared by every channel.
func WithDispatcher(disp dispatch.Dispatcher) Option {
	return func(d *Device) { d.dispatcher = disp }
}

// WithNotifier sets the notifier shared by every channel.
func WithNotifier(n notify.Notifier) Option {
	return func(d *Device) { d.notifier = n }
}

// WithChannelOptions adds options applied to every channel.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(d *Device) { d.chanOpts = append(d.chanOpts, opts...) }
}

// Device owns a set of channels.
type Device struct {
	id         string
	logger     log.Logger
	dispatcher dispatch.Dispatcher
	notifier   notify.Notifier
	chanOpts   []channel.Option

	mu        sync.Mutex
	order     []*channel.Channel
	byID      map[string]*channel.Channel
	connected bool
	closed    bool

	// owned counts channels that have not yet been handed back.
	owned sync.WaitGroup
}

// New creates a disconnected device with no channels.
func New(id string, opts ...Option) *Device {
	if id == "" {
		id = uuid.NewString()
	}
	d := &Device{
		id:     id,
		logger: log.NewNoopLogger(),
		byID:   make(map[string]*channel.Channel),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(log.String("device", id))
	return d
}

// ID returns the device id.
func (d *Device) ID() string { return d.id }

// NewChannel creates a channel from spec. The channel starts disabled; it
// inherits the device connectivity.
func (d *Device) NewChannel(spec Spec) (*channel.Channel, error) {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	opts := []channel.Option{
		channel.WithOwner(d),
		channel.WithLogger(d.logger),
		channel.WithDispatcher(d.dispatcher),
		channel.WithNotifier(d.notifier),
	}
	opts = append(opts, d.chanOpts...)
	opts = append(opts, spec.Options...)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := d.byID[id]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, id)
	}

	var c *channel.Channel
	if spec.Driver != nil {
		c = channel.NewDriven(id, spec.Kind, spec.Driver, opts...)
	} else {
		c = channel.New(id, spec.Kind, spec.Hooks, opts...)
	}
	d.byID[id] = c
	d.order = append(d.order, c)
	d.owned.Add(1)
	connected := d.connected
	d.mu.Unlock()

	d.logger.Info("channel created",
		log.String("channel", id),
		log.String("kind", spec.Kind.String()))
	if connected {
		c.SetDeviceConnected(true)
	}
	return c, nil
}

// Channel returns the channel with the given id.
func (d *Device) Channel(id string) (*channel.Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.byID[id]
	return c, ok
}

// Channels returns the channels in creation order.
func (d *Device) Channels() []*channel.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*channel.Channel(nil), d.order...)
}

// Connected reports the last connectivity set with SetConnected.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// SetConnected records device connectivity on every channel.
func (d *Device) SetConnected(v bool) {
	d.mu.Lock()
	if d.connected == v {
		d.mu.Unlock()
		return
	}
	d.connected = v
	chans := append([]*channel.Channel(nil), d.order...)
	d.mu.Unlock()

	d.logger.Info("device connectivity changed", log.Bool("connected", v))
	for _, c := range chans {
		c.SetDeviceConnected(v)
	}
}

// ApplyAll applies settings on the named channels, or on every channel when
// no ids are given, and waits for all completions. Channels without an
// adjuster are skipped. Synchronous rejections are joined into the returned
// error; asynchronous failures are reported in the summary. When ctx is done
// first, ApplyAll returns the partial summary and leaves nothing waiting on
// the outstanding completions.
func (d *Device) ApplyAll(ctx context.Context, ids ...string) (broadcast.Summary, error) {
	targets, err := d.resolve(ids)
	if err != nil {
		return broadcast.Summary{}, err
	}

	b := broadcast.New(broadcast.WithLogger(d.logger))
	var errs []error
	for _, c := range targets {
		err := c.ApplyChanges(b)
		switch {
		case errors.Is(err, channel.ErrNoAdjuster):
			d.logger.Debug("apply skipped, channel has no adjuster", log.String("channel", c.ID()))
		case err != nil:
			errs = append(errs, fmt.Errorf("channel %s: %w", c.ID(), err))
		}
	}

	select {
	case <-b.Done():
	case <-ctx.Done():
		return b.Summary(), ctx.Err()
	}

	s := b.Summary()
	d.logger.Info("bulk apply finished",
		log.String("bulk", s.ID),
		log.Int("channels", s.Wrapped),
		log.Int("failed", len(s.Failed)))
	return s, errors.Join(errs...)
}

func (d *Device) resolve(ids []string) ([]*channel.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(ids) == 0 {
		return append([]*channel.Channel(nil), d.order...), nil
	}
	out := make([]*channel.Channel, 0, len(ids))
	for _, id := range ids {
		c, ok := d.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
		}
		out = append(out, c)
	}
	return out, nil
}

// RemoveChannel finalizes the channel and drops the device reference.
// It blocks until the channel has stopped.
func (d *Device) RemoveChannel(id string) error {
	d.mu.Lock()
	c, ok := d.byID[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	delete(d.byID, id)
	for i, o := range d.order {
		if o == c {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	c.BeginFinalization()
	c.EndFinalization()
	c.Release()
	d.logger.Info("channel removed", log.String("channel", id))
	return nil
}

// ChannelReleased implements channel.Owner.
func (d *Device) ChannelReleased(c *channel.Channel) {
	d.logger.Debug("channel handed back", log.String("channel", c.ID()))
	d.owned.Done()
}

// Close finalizes every channel. Finalization begins on all channels before
// it ends on any. Returns ErrCloseTimeout if channels are still stopping
// after timeout; they keep stopping in the background.
func (d *Device) Close(timeout time.Duration) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	chans := d.order
	d.order = nil
	d.byID = make(map[string]*channel.Channel)
	d.mu.Unlock()

	d.logger.Info("device closing", log.Int("channels", len(chans)))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range chans {
			c.BeginFinalization()
		}
		for _, c := range chans {
			c.EndFinalization()
			c.Release()
		}
		d.owned.Wait()
	}()

	select {
	case <-done:
		d.logger.Info("device closed")
		return nil
	case <-time.After(timeout):
		d.logger.Warn("device close timeout, channels still stopping",
			log.Duration("timeout", timeout))
		return ErrCloseTimeout
	}
}

var _ channel.Owner = (*Device)(nil)
