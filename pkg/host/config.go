package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/device"
	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/driver/sim"
)

// Driver names accepted in ChannelConfig.Driver.
const (
	DriverSim  = "sim"
	DriverNone = "none"
)

// Config holds the configuration of a Host.
type Config struct {
	// DeviceID names the device in logs and notifications.
	// Empty generates a UUID.
	DeviceID string

	// Workers and QueueSize size the dispatcher pool.
	Workers   int
	QueueSize int

	// StartTimeout and StopTimeout bound the first phase of driver
	// confirmation waits.
	StartTimeout time.Duration
	StopTimeout  time.Duration

	// CloseTimeout bounds Stop.
	CloseTimeout time.Duration

	// JournalPath, when set, appends every notification to a CBOR journal.
	JournalPath string

	// StateDir, when set, keeps a status.json snapshot of the last
	// notification of every channel in this directory.
	StateDir string

	Channels []ChannelConfig
}

// ChannelConfig describes one channel.
type ChannelConfig struct {
	ID            string
	Kind          channel.Kind
	Enabled       bool
	SinkConnected bool

	// Driver is DriverSim (the default) or DriverNone.
	Driver string

	// Simulated driver behavior.
	Latency         time.Duration
	StartCode       driver.Code
	ApplyCode       driver.Code
	LoseSignal      bool
	SilentStop      bool
	DuplicateFinish bool
}

// DefaultConfig returns a Config with default values and no channels.
func DefaultConfig() Config {
	return Config{
		Workers:      dispatch.DefaultWorkers,
		QueueSize:    dispatch.DefaultQueueSize,
		StartTimeout: channel.DefaultTimeout,
		StopTimeout:  channel.DefaultTimeout,
		CloseTimeout: device.DefaultCloseTimeout,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	for i := range c.Channels {
		if c.Channels[i].Driver == "" {
			c.Channels[i].Driver = DriverSim
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue size must not be negative")
	}
	return ValidateChannels(c.Channels)
}

// ErrInvalidChannel is returned for a malformed channel list.
var ErrInvalidChannel = errors.New("devchannel: invalid channel config")

// ValidateChannels checks ids and driver names.
func ValidateChannels(chans []ChannelConfig) error {
	seen := make(map[string]bool, len(chans))
	for i, cc := range chans {
		if cc.ID == "" {
			return fmt.Errorf("%w: channel %d has no id", ErrInvalidChannel, i)
		}
		if seen[cc.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidChannel, cc.ID)
		}
		seen[cc.ID] = true
		switch cc.Driver {
		case "", DriverSim, DriverNone:
		default:
			return fmt.Errorf("%w: channel %q: unknown driver %q", ErrInvalidChannel, cc.ID, cc.Driver)
		}
	}
	return nil
}

func (cc ChannelConfig) simConfig() sim.Config {
	return sim.Config{
		Source:          driver.Source(cc.ID),
		Latency:         cc.Latency,
		StartCode:       cc.StartCode,
		ApplyCode:       cc.ApplyCode,
		LoseSignal:      cc.LoseSignal,
		SilentStop:      cc.SilentStop,
		DuplicateFinish: cc.DuplicateFinish,
	}
}

// sameDriver reports whether a and b can share one channel instance.
func sameDriver(a, b ChannelConfig) bool {
	return a.Kind == b.Kind && driverOf(a) == driverOf(b)
}

// sameSettings reports whether a and b configure the driver identically.
func sameSettings(a, b ChannelConfig) bool {
	return a.simConfig() == b.simConfig()
}

func driverOf(cc ChannelConfig) string {
	if cc.Driver == "" {
		return DriverSim
	}
	return cc.Driver
}
