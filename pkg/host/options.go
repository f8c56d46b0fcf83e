package host

import (
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/lifecycle"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// Option configures optional behavior of a Host.
type Option func(*options)

// Loader reads a channel list from the configuration file at path.
type Loader func(path string) ([]ChannelConfig, error)

type options struct {
	logger     log.Logger
	notifier   notify.Notifier
	emitter    lifecycle.EventEmitter
	onTimeout  func(channel.TimeoutEvent)
	plugins    []Plugin
	configPath string
	loader     Loader
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
	}
}

// WithLogger sets the logger. If not provided, nothing is logged.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithNotifier adds a receiver for channel notifications, alongside the
// journal when one is configured.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithEventHandler sets a handler for host state changes.
// It is called synchronously and should return quickly.
func WithEventHandler(e lifecycle.EventEmitter) Option {
	return func(o *options) {
		o.emitter = e
	}
}

// WithTimeoutHandler sets a handler for overdue driver confirmations.
// It is called from the host supervisor goroutine.
func WithTimeoutHandler(fn func(channel.TimeoutEvent)) Option {
	return func(o *options) {
		o.onTimeout = fn
	}
}

// WithPlugin registers a plugin to be initialized when the host starts.
// Plugins are initialized in registration order and shut down in reverse
// order.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, p)
	}
}

// WithConfigSource names the configuration file and how to read its channel
// list. Plugins reload the host through it.
func WithConfigSource(path string, load Loader) Option {
	return func(o *options) {
		o.configPath = path
		o.loader = load
	}
}
