// Package host runs a device and its channels as an embeddable service.
//
// A Host owns the worker pool channels dispatch on, the notification journal,
// the optional status snapshot (Config.StateDir) and the device. It can be used from the devchannel CLI or embedded in
// another Go program.
//
// # Basic Usage
//
//	cfg := host.DefaultConfig()
//	cfg.DeviceID = "rack-7"
//	cfg.Channels = []host.ChannelConfig{
//	    {ID: "cam-1", Kind: channel.KindVideoSource, Enabled: true, SinkConnected: true},
//	}
//
//	h, err := host.New(cfg, host.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := h.Start(ctx); err != nil {
//	    return err
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := h.Stop(); err != nil {
//	    logger.Error("shutdown error", log.Err(err))
//	}
//
// # Reconfiguration
//
// [Host.Reload] reconciles the running channels against a new channel list:
// channels that disappeared are finalized, new ones are created, changed
// ones are updated and their settings reapplied in one bulk operation.
// The configwatcher plugin calls it when the configuration file changes.
//
// # Lifecycle States
//
// A Host is in one of the [lifecycle.State] values. Use [Host.Status] to
// query it.
package host
