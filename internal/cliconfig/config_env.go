package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (DEVCHANNEL_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("device-id", os.Getenv("DEVCHANNEL_DEVICE_ID"), &cfg.DeviceID)
	s.setString("log-level", os.Getenv("DEVCHANNEL_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("DEVCHANNEL_LOG_FORMAT"), &cfg.LogFormat)
	s.setString("journal", os.Getenv("DEVCHANNEL_JOURNAL"), &cfg.JournalPath)
	s.setString("state-dir", os.Getenv("DEVCHANNEL_STATE_DIR"), &cfg.StateDir)

	if err := s.setIntFromString("workers", os.Getenv("DEVCHANNEL_WORKERS"), &cfg.Workers); err != nil {
		return err
	}
	if err := s.setIntFromString("queue-size", os.Getenv("DEVCHANNEL_QUEUE_SIZE"), &cfg.QueueSize); err != nil {
		return err
	}

	if err := s.setDuration("start-timeout", os.Getenv("DEVCHANNEL_START_TIMEOUT"), &cfg.StartTimeout); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", os.Getenv("DEVCHANNEL_STOP_TIMEOUT"), &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("close-timeout", os.Getenv("DEVCHANNEL_CLOSE_TIMEOUT"), &cfg.CloseTimeout); err != nil {
		return err
	}
	if err := s.setDuration("watch-debounce", os.Getenv("DEVCHANNEL_WATCH_DEBOUNCE"), &cfg.WatchDebounce); err != nil {
		return err
	}

	s.setBoolFromString("watch", os.Getenv("DEVCHANNEL_WATCH"), &cfg.Watch)

	return nil
}
