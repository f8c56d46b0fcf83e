// Package devchannel coordinates the lifecycle of device channels: a channel
// starts once its device and sink are connected and it is enabled, stops
// when any of those goes away, and forwards settings apply requests to its
// driver while tracking their completion.
//
// Example usage:
//
//	cfg := devchannel.DefaultConfig()
//	cfg.Channels = []devchannel.ChannelConfig{
//	    {ID: "cam", Kind: devchannel.KindVideoSource, Enabled: true, SinkConnected: true},
//	}
//	h, err := devchannel.New(cfg, devchannel.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop()
//
// Lower-level building blocks live in pkg/channel, pkg/device, pkg/broadcast
// and pkg/dispatch.
package devchannel

import (
	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/host"
	"github.com/bft-labs/devchannel/pkg/lifecycle"
)

// Host runs one device and its channels.
type Host = host.Host

// Config configures a Host.
type Config = host.Config

// ChannelConfig configures one channel of a Host.
type ChannelConfig = host.ChannelConfig

// Option configures optional behavior of a Host.
type Option = host.Option

// Plugin extends a Host.
type Plugin = host.Plugin

// State is the host lifecycle state.
type State = lifecycle.State

// Host lifecycle states.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

// Kind is the category of hardware a channel fronts.
type Kind = channel.Kind

// Channel kinds.
const (
	KindDeviceNode       = channel.KindDeviceNode
	KindVideoSource      = channel.KindVideoSource
	KindAudioSource      = channel.KindAudioSource
	KindAudioDestination = channel.KindAudioDestination
	KindTelemetry        = channel.KindTelemetry
	KindIOPanel          = channel.KindIOPanel
	KindTextEventSource  = channel.KindTextEventSource
)

// Errors returned by Host methods.
var (
	ErrNotRunning     = lifecycle.ErrNotRunning
	ErrAlreadyRunning = lifecycle.ErrAlreadyRunning
	ErrNoConfigSource = host.ErrNoConfigSource
	ErrInvalidChannel = host.ErrInvalidChannel
)

// New creates a Host. See host.New.
func New(cfg Config, opts ...Option) (*Host, error) {
	return host.New(cfg, opts...)
}

// DefaultConfig returns a Config with default values and no channels.
func DefaultConfig() Config {
	return host.DefaultConfig()
}

// Option constructors.
var (
	WithLogger         = host.WithLogger
	WithNotifier       = host.WithNotifier
	WithEventHandler   = host.WithEventHandler
	WithTimeoutHandler = host.WithTimeoutHandler
	WithPlugin         = host.WithPlugin
	WithConfigSource   = host.WithConfigSource
)
