// Package log provides the logging abstraction used by devchannel components.
//
// Channels, dispatchers and devices log through the Logger interface so that
// embedding applications can route output into their own infrastructure. A
// zerolog adapter and a no-op logger are provided.
//
// # Usage
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	chLog := logger.With(log.String("channel", "cam-1"))
//	chLog.Info("start requested", log.Flags("flags", 0x27))
//
// Use the no-op logger in tests:
//
//	logger := log.NewNoopLogger()
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package log
