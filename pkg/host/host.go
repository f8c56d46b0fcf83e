package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/bft-labs/devchannel/pkg/broadcast"
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/device"
	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/lifecycle"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
	"github.com/bft-labs/devchannel/pkg/state"
)

// ErrNoConfigSource is returned by reloads on a host without WithConfigSource.
var ErrNoConfigSource = errors.New("devchannel: no config source")

const timeoutBuffer = 64

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	ID      string
	Kind    channel.Kind
	Phase   channel.Phase
	Flags   channel.Flags
	Applies int
}

// Host runs one device. Use New, then Start.
type Host struct {
	config    Config
	opts      options
	lifecycle *lifecycle.DefaultManager
	logger    log.Logger

	// timeouts carries escalations from channel work items to the
	// supervisor. Sends never block.
	timeouts chan channel.TimeoutEvent

	// mu guards the runtime below and serializes Reload.
	mu       sync.Mutex
	pool     *dispatch.Pool
	journal  *notify.Journal
	recorder *state.Recorder
	device   *device.Device
	applied  map[string]ChannelConfig
}

// New creates a Host in lifecycle.StateStopped.
// Returns an error if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Host, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Host{
		config:    cfg,
		opts:      o,
		lifecycle: lifecycle.NewManager(o.logger, o.emitter),
		logger:    o.logger,
		timeouts:  make(chan channel.TimeoutEvent, timeoutBuffer),
	}, nil
}

// Start creates the device and its channels and initializes plugins.
// It returns once every channel has been configured; channels start
// asynchronously.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lifecycle.CanStart() {
		return lifecycle.ErrAlreadyRunning
	}
	if err := h.lifecycle.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.lifecycle.SetCancel(cancel)

	if err := h.startRuntime(); err != nil {
		cancel()
		h.teardownRuntime()
		_ = h.lifecycle.TransitionTo(lifecycle.StateCrashed, err.Error())
		return err
	}

	h.lifecycle.AddWorker()
	go h.supervise(runCtx, h.timeouts)
	if rec := h.recorder; rec != nil {
		h.lifecycle.AddWorker()
		go func() {
			defer h.lifecycle.WorkerDone()
			rec.Run(runCtx)
		}()
	}

	if err := h.reconcileLocked(runCtx, h.config.Channels); err != nil {
		h.logger.Error("initial channel setup incomplete", log.Err(err))
	}
	h.device.SetConnected(true)

	pcfg := PluginConfig{
		DeviceID:   h.device.ID(),
		ConfigPath: h.opts.configPath,
		Logger:     h.logger,
		Reload:     h.ReloadFromSource,
	}
	for i, p := range h.opts.plugins {
		if err := p.Initialize(runCtx, pcfg); err != nil {
			h.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			h.mu.Unlock()
			h.shutdownPlugins(h.opts.plugins[:i])
			h.mu.Lock()
			_ = h.shutdownLocked()
			_ = h.lifecycle.TransitionTo(lifecycle.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		h.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	return h.lifecycle.TransitionTo(lifecycle.StateRunning, "channels configured")
}

func (h *Host) startRuntime() error {
	h.pool = dispatch.NewPool(dispatch.PoolConfig{
		Workers:   h.config.Workers,
		QueueSize: h.config.QueueSize,
	}, h.logger)

	notifiers := notify.Multi{h.opts.notifier}
	if h.config.JournalPath != "" {
		j, err := notify.OpenJournal(h.config.JournalPath, notify.WithJournalLogger(h.logger))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		h.journal = j
		notifiers = append(notifiers, j)
	}

	id := h.config.DeviceID
	if id == "" {
		id = uuid.NewString()
	}
	if h.config.StateDir != "" {
		repo := state.NewFileRepository(h.config.StateDir)
		h.checkPrevious(repo)
		h.recorder = state.NewRecorder(id, repo, h.logger)
		notifiers = append(notifiers, h.recorder)
	}

	h.device = device.New(id,
		device.WithLogger(h.logger),
		device.WithDispatcher(h.pool),
		device.WithNotifier(notifiers),
		device.WithChannelOptions(
			channel.WithStartTimeout(h.config.StartTimeout),
			channel.WithStopTimeout(h.config.StopTimeout),
			channel.WithTimeoutHandler(h.escalate),
		),
	)
	h.applied = make(map[string]ChannelConfig)
	return nil
}

// checkPrevious warns about channels the previous run left running.
func (h *Host) checkPrevious(repo state.Repository) {
	prev, err := repo.Load(context.Background())
	if err != nil {
		h.logger.Warn("previous state unreadable", log.Err(err))
		return
	}
	for _, cs := range prev.Unclean() {
		h.logger.Warn("channel was running when the previous run ended",
			log.String("channel", cs.ID),
			log.String("kind", cs.Kind),
			log.String("state", cs.State),
			log.Any("since", cs.UpdatedAt))
	}
}

func (h *Host) teardownRuntime() {
	h.device = nil
	h.applied = nil
	h.recorder = nil
	if h.pool != nil {
		if err := h.pool.Close(h.config.CloseTimeout); err != nil {
			h.logger.Warn("dispatcher close incomplete", log.Err(err))
		}
		h.pool = nil
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			h.logger.Warn("journal close failed", log.Err(err))
		}
		h.journal = nil
	}
}

// escalate runs on channel work item goroutines; it must not block.
func (h *Host) escalate(ev channel.TimeoutEvent) {
	select {
	case h.timeouts <- ev:
	default:
		h.logger.Warn("timeout escalation dropped",
			log.String("channel", ev.ChannelID),
			log.String("op", ev.Op.String()))
	}
}

func (h *Host) supervise(ctx context.Context, timeouts <-chan channel.TimeoutEvent) {
	defer h.lifecycle.WorkerDone()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-timeouts:
			h.logger.Error("channel confirmation overdue",
				log.String("channel", ev.ChannelID),
				log.String("kind", ev.Kind.String()),
				log.String("op", ev.Op.String()),
				log.Duration("waited", ev.Waited))
			if fn := h.opts.onTimeout; fn != nil {
				fn(ev)
			}
		}
	}
}

// Stop shuts down plugins, finalizes every channel and releases the pool and
// journal. Returns ErrShutdownTimeout or device.ErrCloseTimeout if channels
// did not stop within the close timeout.
func (h *Host) Stop() error {
	h.mu.Lock()
	if !h.lifecycle.CanStop() {
		h.mu.Unlock()
		return lifecycle.ErrNotRunning
	}
	if err := h.lifecycle.TransitionTo(lifecycle.StateStopping, "Stop() called"); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	// Plugins may call Reload, which takes mu.
	h.shutdownPlugins(h.opts.plugins)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.shutdownLocked(); err != nil {
		_ = h.lifecycle.TransitionTo(lifecycle.StateCrashed, "shutdown timeout")
		return err
	}
	return h.lifecycle.TransitionTo(lifecycle.StateStopped, "graceful shutdown")
}

// shutdownPlugins shuts plugins down in reverse order.
func (h *Host) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			h.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			h.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// shutdownLocked finalizes the device, stops the supervisor and releases the
// runtime.
func (h *Host) shutdownLocked() error {
	var errs []error
	if h.device != nil {
		h.device.SetConnected(false)
		errs = append(errs, h.device.Close(h.config.CloseTimeout))
	}
	h.lifecycle.Cancel()
	errs = append(errs, h.lifecycle.WaitWithTimeout(h.config.CloseTimeout))
	h.teardownRuntime()
	return errors.Join(errs...)
}

// Status returns the current lifecycle state.
func (h *Host) Status() lifecycle.State {
	return h.lifecycle.State()
}

// Device returns the running device, or nil when stopped.
func (h *Host) Device() *device.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// Channels returns the status of every channel in creation order.
func (h *Host) Channels() []ChannelStatus {
	d := h.Device()
	if d == nil {
		return nil
	}
	chans := d.Channels()
	out := make([]ChannelStatus, 0, len(chans))
	for _, c := range chans {
		out = append(out, ChannelStatus{
			ID:      c.ID(),
			Kind:    c.Kind(),
			Phase:   c.Phase(),
			Flags:   c.Flags(),
			Applies: c.ApplyCount(),
		})
	}
	return out
}

// Reload reconciles the running channels against chans.
func (h *Host) Reload(ctx context.Context, chans []ChannelConfig) error {
	if err := ValidateChannels(chans); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lifecycle.State() != lifecycle.StateRunning {
		return lifecycle.ErrNotRunning
	}
	return h.reconcileLocked(ctx, chans)
}

// ReloadFromSource rereads the configuration file and reconciles.
func (h *Host) ReloadFromSource(ctx context.Context) error {
	if h.opts.loader == nil || h.opts.configPath == "" {
		return ErrNoConfigSource
	}
	chans, err := h.opts.loader(h.opts.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", h.opts.configPath, err)
	}
	return h.Reload(ctx, chans)
}

// reconcileLocked removes, creates and updates channels so the device matches
// want, then reapplies settings on every channel whose driver settings
// changed.
func (h *Host) reconcileLocked(ctx context.Context, want []ChannelConfig) error {
	wantByID := make(map[string]ChannelConfig, len(want))
	for _, cc := range want {
		if cc.Driver == "" {
			cc.Driver = DriverSim
		}
		wantByID[cc.ID] = cc
	}

	var errs []error
	for id, have := range h.applied {
		next, ok := wantByID[id]
		if ok && sameDriver(have, next) {
			continue
		}
		if err := h.device.RemoveChannel(id); err != nil {
			errs = append(errs, err)
		}
		delete(h.applied, id)
	}

	var reapply []string
	for _, cc := range want {
		if cc.Driver == "" {
			cc.Driver = DriverSim
		}
		have, exists := h.applied[cc.ID]
		if !exists {
			if err := h.addChannel(cc); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		c, ok := h.device.Channel(cc.ID)
		if !ok {
			continue
		}
		if !sameSettings(have, cc) {
			h.updateDriver(c, cc)
			reapply = append(reapply, cc.ID)
		}
		c.SetSinkConnected(cc.SinkConnected)
		c.SetEnabled(cc.Enabled)
		h.applied[cc.ID] = cc
	}

	if len(reapply) > 0 {
		s, err := h.device.ApplyAll(ctx, reapply...)
		if err != nil {
			errs = append(errs, err)
		}
		logSummary(h.logger, s)
	}
	return errors.Join(errs...)
}

func (h *Host) addChannel(cc ChannelConfig) error {
	spec := device.Spec{ID: cc.ID, Kind: cc.Kind}
	if cc.Driver == DriverSim {
		spec.Driver = simFactory(cc)
	}
	c, err := h.device.NewChannel(spec)
	if err != nil {
		return err
	}
	h.applied[cc.ID] = cc
	c.SetSinkConnected(cc.SinkConnected)
	c.SetEnabled(cc.Enabled)
	return nil
}

func logSummary(l log.Logger, s broadcast.Summary) {
	if s.OK() {
		l.Info("settings reapplied", log.String("bulk", s.ID), log.Int("channels", s.Completed))
		return
	}
	for src, code := range s.Failed {
		l.Warn("settings apply failed",
			log.String("bulk", s.ID),
			log.String("source", string(src)),
			log.String("code", code.String()))
	}
}
