package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/devchannel/pkg/channel"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/host"
)

// FileConfig mirrors Config but uses strings for durations, kinds and codes
// to keep TOML and YAML files readable.
type FileConfig struct {
	DeviceID      string        `toml:"device_id" yaml:"device_id"`
	Workers       int           `toml:"workers" yaml:"workers"`
	QueueSize     int           `toml:"queue_size" yaml:"queue_size"`
	StartTimeout  string        `toml:"start_timeout" yaml:"start_timeout"`
	StopTimeout   string        `toml:"stop_timeout" yaml:"stop_timeout"`
	CloseTimeout  string        `toml:"close_timeout" yaml:"close_timeout"`
	LogLevel      string        `toml:"log_level" yaml:"log_level"`
	LogFormat     string        `toml:"log_format" yaml:"log_format"`
	JournalPath   string        `toml:"journal" yaml:"journal"`
	StateDir      string        `toml:"state_dir" yaml:"state_dir"`
	Watch         *bool         `toml:"watch" yaml:"watch"`
	WatchDebounce string        `toml:"watch_debounce" yaml:"watch_debounce"`
	Channels      []FileChannel `toml:"channels" yaml:"channels"`
}

// FileChannel is one [[channels]] entry.
type FileChannel struct {
	ID   string `toml:"id" yaml:"id"`
	Kind string `toml:"kind" yaml:"kind"`

	// Enabled and SinkConnected default to true.
	Enabled       *bool `toml:"enabled" yaml:"enabled"`
	SinkConnected *bool `toml:"sink_connected" yaml:"sink_connected"`

	Driver          string `toml:"driver" yaml:"driver"`
	Latency         string `toml:"latency" yaml:"latency"`
	StartCode       string `toml:"start_code" yaml:"start_code"`
	ApplyCode       string `toml:"apply_code" yaml:"apply_code"`
	LoseSignal      bool   `toml:"lose_signal" yaml:"lose_signal"`
	SilentStop      bool   `toml:"silent_stop" yaml:"silent_stop"`
	DuplicateFinish bool   `toml:"duplicate_finish" yaml:"duplicate_finish"`
}

// HostChannel converts fc to the library channel configuration.
func (fc FileChannel) HostChannel() (host.ChannelConfig, error) {
	cc := host.ChannelConfig{
		ID:              fc.ID,
		Enabled:         fc.Enabled == nil || *fc.Enabled,
		SinkConnected:   fc.SinkConnected == nil || *fc.SinkConnected,
		Driver:          strings.ToLower(fc.Driver),
		LoseSignal:      fc.LoseSignal,
		SilentStop:      fc.SilentStop,
		DuplicateFinish: fc.DuplicateFinish,
	}

	var err error
	if cc.Kind, err = channel.ParseKind(fc.Kind); err != nil {
		return cc, fmt.Errorf("channel %q: %w", fc.ID, err)
	}
	if fc.Latency != "" {
		if cc.Latency, err = time.ParseDuration(fc.Latency); err != nil {
			return cc, fmt.Errorf("channel %q: parse latency: %w", fc.ID, err)
		}
	}
	if cc.StartCode, err = driver.ParseCode(fc.StartCode); err != nil {
		return cc, fmt.Errorf("channel %q: start_code: %w", fc.ID, err)
	}
	if cc.ApplyCode, err = driver.ParseCode(fc.ApplyCode); err != nil {
		return cc, fmt.Errorf("channel %q: apply_code: %w", fc.ID, err)
	}
	return cc, nil
}

// HostChannels converts every channel entry in order.
func (fc FileConfig) HostChannels() ([]host.ChannelConfig, error) {
	out := make([]host.ChannelConfig, 0, len(fc.Channels))
	for _, ch := range fc.Channels {
		cc, err := ch.HostChannel()
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, nil
}

// LoadFileConfig reads and parses a config file from the given path.
// Files ending in .yaml or .yml are parsed as YAML, anything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = toml.Unmarshal(b, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// LoadChannels reads only the channel list from the config file at path.
// It satisfies host.Loader.
func LoadChannels(path string) ([]host.ChannelConfig, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	return fc.HostChannels()
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.devchannel/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".devchannel", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device-id", fc.DeviceID, &cfg.DeviceID)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("journal", fc.JournalPath, &cfg.JournalPath)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)

	s.setInt("workers", fc.Workers, &cfg.Workers)
	s.setInt("queue-size", fc.QueueSize, &cfg.QueueSize)

	if err := s.setDuration("start-timeout", fc.StartTimeout, &cfg.StartTimeout); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", fc.StopTimeout, &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("close-timeout", fc.CloseTimeout, &cfg.CloseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watch-debounce", fc.WatchDebounce, &cfg.WatchDebounce); err != nil {
		return err
	}

	s.setBool("watch", fc.Watch, &cfg.Watch)

	chans, err := fc.HostChannels()
	if err != nil {
		return err
	}
	cfg.Channels = chans
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
