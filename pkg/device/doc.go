// Package device groups the channels of one piece of hardware.
//
// A Device creates its channels, fans connectivity changes out to them, runs
// bulk settings applies across them and tears them down in two phases:
// every channel begins finalization before any channel ends it, so stops
// proceed in parallel.
//
// The device is the owner of each channel it creates and is told through
// channel.Owner when a channel has finished finalization.
package device
