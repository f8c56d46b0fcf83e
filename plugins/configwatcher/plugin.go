// Package configwatcher provides config file monitoring for a devchannel
// host. When enabled, it watches the host's configuration file and reloads
// the channel list after every change.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/devchannel/pkg/host"
	"github.com/bft-labs/devchannel/pkg/lifecycle"
	"github.com/bft-labs/devchannel/pkg/log"
)

// Plugin reloads a host when its configuration file changes.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	retryInterval time.Duration
	maxRetry      time.Duration

	path   string
	reload func(context.Context) error
	logger log.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is how long the file must be quiet before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// RetryInterval is the first delay after a failed reload. It doubles
	// on each further failure up to MaxRetryInterval.
	// Default: 1 second
	RetryInterval time.Duration

	// MaxRetryInterval caps the retry delay.
	// Default: 30 seconds
	MaxRetryInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay:    100 * time.Millisecond,
		RetryInterval:    time.Second,
		MaxRetryInterval: 30 * time.Second,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	d := DefaultConfig()
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = d.DebounceDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = d.RetryInterval
	}
	if cfg.MaxRetryInterval < cfg.RetryInterval {
		cfg.MaxRetryInterval = max(d.MaxRetryInterval, cfg.RetryInterval)
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		retryInterval: cfg.RetryInterval,
		maxRetry:      cfg.MaxRetryInterval,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath. A host without a config
// source leaves the watcher disabled.
func (p *Plugin) Initialize(ctx context.Context, cfg host.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.path = cfg.ConfigPath
	p.reload = cfg.Reload
	p.logger = log.OrNoop(cfg.Logger).With(log.String("plugin", p.Name()))

	if p.path == "" || p.reload == nil {
		p.logger.Warn("config watcher disabled: no config source")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher started", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher and waits for an in-flight reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	return nil
}

// watchLoop owns the debounce and retry timer. A file event always
// replaces a pending retry.
func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	backoff := lifecycle.NewBackoff(p.retryInterval, p.maxRetry)

	var timer *time.Timer
	var fire <-chan time.Time
	arm := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d)
		fire = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			backoff.Reset()
			arm(p.debounceDelay)

		case <-fire:
			fire = nil
			if err := p.reload(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				delay := backoff.Next()
				p.logger.Error("config reload failed",
					log.Err(err),
					log.Duration("retry_in", delay))
				arm(delay)
				continue
			}
			backoff.Reset()
			p.logger.Info("config reloaded", log.String("path", p.path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", log.Err(err))
		}
	}
}

// Ensure Plugin implements host.Plugin.
var _ host.Plugin = (*Plugin)(nil)
