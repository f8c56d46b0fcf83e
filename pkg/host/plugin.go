package host

import (
	"context"

	"github.com/bft-labs/devchannel/pkg/log"
)

// Plugin extends a Host. Initialize is called during Start, Shutdown during
// Stop before the channels are finalized.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is passed to Plugin.Initialize.
type PluginConfig struct {
	DeviceID string

	// ConfigPath is the configuration file given with WithConfigSource.
	// Empty if none.
	ConfigPath string

	Logger log.Logger

	// Reload rereads ConfigPath and reconciles the channels.
	Reload func(ctx context.Context) error
}
