package configwatcher

import "github.com/bft-labs/devchannel/pkg/host"

// WithConfigWatcher returns a host Option that reloads the channel list when
// the configuration file changes. The host must also be given
// host.WithConfigSource; without one the watcher stays disabled.
//
// Usage:
//
//	h, err := host.New(cfg,
//	    host.WithConfigSource(path, cliconfig.LoadChannels),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 200 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) host.Option {
	return host.WithPlugin(New(cfg))
}

// WithDefaultConfigWatcher returns a host Option that enables config
// watching with default settings (debounce 100ms, retry from 1s up to 30s).
func WithDefaultConfigWatcher() host.Option {
	return WithConfigWatcher(DefaultConfig())
}
