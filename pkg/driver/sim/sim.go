// Package sim provides a simulated asynchronous device driver.
//
// The simulator reports every outcome from its own goroutines after a
// configurable latency, the way vendor SDKs call back from threads the caller
// does not own. Failure injection covers rejected calls, failure codes,
// duplicate completions and stops that are never confirmed.
package sim

import (
	"sync"
	"time"

	"github.com/bft-labs/devchannel/pkg/driver"
)

// Config controls the simulated behavior.
type Config struct {
	// Source is reported with every callback.
	Source driver.Source

	// Latency delays every callback. Zero reports on a fresh goroutine
	// without sleeping.
	Latency time.Duration

	// StartErr, StopErr and ApplyErr reject the call synchronously.
	StartErr error
	StopErr  error
	ApplyErr error

	// StartCode other than CodeOK reports Failed instead of Started.
	StartCode driver.Code

	// ApplyCode is delivered to every apply completion handler.
	ApplyCode driver.Code

	// LoseSignal reports SignalLost instead of Started after a start.
	LoseSignal bool

	// SilentStop never confirms a stop. Use ConfirmStop to release it.
	SilentStop bool

	// DuplicateFinish calls every apply completion handler twice.
	DuplicateFinish bool
}

// Counts reports how many calls the driver accepted.
type Counts struct {
	Starts  int
	Stops   int
	Applies int
}

// Driver is a simulated driver. It is safe for concurrent use.
type Driver struct {
	mu     sync.Mutex
	cfg    Config
	events driver.Events
	counts Counts
	wg     sync.WaitGroup
}

// New creates a simulated driver reporting to events.
func New(cfg Config, events driver.Events) *Driver {
	if cfg.Source == "" {
		cfg.Source = "sim"
	}
	return &Driver{cfg: cfg, events: events}
}

// Factory returns a driver.Factory producing simulators with cfg.
func Factory(cfg Config) driver.Factory {
	return func(events driver.Events) driver.Driver {
		return New(cfg, events)
	}
}

// Update changes the configuration for subsequent calls.
func (d *Driver) Update(fn func(*Config)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.cfg)
}

// Start implements driver.Driver.
func (d *Driver) Start() error {
	d.mu.Lock()
	cfg := d.cfg
	if cfg.StartErr != nil {
		d.mu.Unlock()
		return &driver.Error{Op: "start", Code: driver.CodeOf(cfg.StartErr), Err: cfg.StartErr}
	}
	d.counts.Starts++
	d.mu.Unlock()

	d.later(cfg.Latency, func() {
		switch {
		case !cfg.StartCode.OK():
			d.events.Failed(cfg.Source, cfg.StartCode)
		case cfg.LoseSignal:
			d.events.SignalLost(cfg.Source, driver.CodeNetwork)
		default:
			d.events.Started(cfg.Source)
		}
	})
	return nil
}

// Stop implements driver.Driver.
func (d *Driver) Stop() error {
	d.mu.Lock()
	cfg := d.cfg
	if cfg.StopErr != nil {
		d.mu.Unlock()
		return &driver.Error{Op: "stop", Code: driver.CodeOf(cfg.StopErr), Err: cfg.StopErr}
	}
	d.counts.Stops++
	d.mu.Unlock()

	if cfg.SilentStop {
		return nil
	}
	d.later(cfg.Latency, func() {
		d.events.Stopped(cfg.Source)
	})
	return nil
}

// ConfirmStop reports Stopped now, for use with SilentStop.
func (d *Driver) ConfirmStop() {
	d.mu.Lock()
	src := d.cfg.Source
	d.mu.Unlock()
	d.later(0, func() { d.events.Stopped(src) })
}

// Fail reports a spontaneous failure.
func (d *Driver) Fail(code driver.Code) {
	d.mu.Lock()
	src := d.cfg.Source
	d.mu.Unlock()
	d.later(0, func() { d.events.Failed(src, code) })
}

// ApplySettings implements driver.Adjuster.
func (d *Driver) ApplySettings(h driver.CompletionHandler) error {
	d.mu.Lock()
	cfg := d.cfg
	if cfg.ApplyErr != nil {
		d.mu.Unlock()
		return &driver.Error{Op: "apply", Code: driver.CodeOf(cfg.ApplyErr), Err: cfg.ApplyErr}
	}
	d.counts.Applies++
	d.mu.Unlock()

	d.later(cfg.Latency, func() {
		h.Finished(cfg.Source, cfg.ApplyCode)
		if cfg.DuplicateFinish {
			h.Finished(cfg.Source, cfg.ApplyCode)
		}
	})
	return nil
}

// Counts returns the accepted call counts.
func (d *Driver) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts
}

// Wait blocks until every scheduled callback has been delivered.
func (d *Driver) Wait() {
	d.wg.Wait()
}

func (d *Driver) later(delay time.Duration, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		fn()
	}()
}

var _ driver.Driver = (*Driver)(nil)
