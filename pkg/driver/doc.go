// Package driver defines the contract between channels and the device
// drivers that perform hardware operations on their behalf.
//
// A driver exposes asynchronous Start, Stop and ApplySettings calls and
// reports their outcome later, from goroutines the channel does not control,
// through the Events and CompletionHandler interfaces. Outcomes are carried
// as Code values; drivers never panic into their callers.
package driver
