package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/device"
	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/host"
)

// Config holds CLI configuration for devchannel.
type Config struct {
	DeviceID string

	Workers   int
	QueueSize int

	StartTimeout time.Duration
	StopTimeout  time.Duration
	CloseTimeout time.Duration

	LogLevel  string
	LogFormat string

	JournalPath string
	StateDir    string

	Watch         bool
	WatchDebounce time.Duration

	// Channels come from the config file only.
	Channels []host.ChannelConfig
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Workers:       dispatch.DefaultWorkers,
		QueueSize:     dispatch.DefaultQueueSize,
		StartTimeout:  channel.DefaultTimeout,
		StopTimeout:   channel.DefaultTimeout,
		CloseTimeout:  device.DefaultCloseTimeout,
		LogLevel:      "info",
		LogFormat:     "console",
		WatchDebounce: 100 * time.Millisecond,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.StartTimeout <= 0 || c.StopTimeout <= 0 || c.CloseTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return host.ValidateChannels(c.Channels)
}

// HostConfig converts c to the library configuration.
func (c *Config) HostConfig() host.Config {
	return host.Config{
		DeviceID:     c.DeviceID,
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		StartTimeout: c.StartTimeout,
		StopTimeout:  c.StopTimeout,
		CloseTimeout: c.CloseTimeout,
		JournalPath:  c.JournalPath,
		StateDir:     c.StateDir,
		Channels:     append([]host.ChannelConfig(nil), c.Channels...),
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
