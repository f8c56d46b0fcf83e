package driver

// Source identifies the driver object that reports an event, for example a
// vendor SDK stream handle rendered as a string.
type Source string

// CompletionHandler receives the outcome of one ApplySettings call.
// A well-behaved driver calls Finished exactly once per call.
type CompletionHandler interface {
	Finished(src Source, code Code)
}

// CompletionFunc adapts a function to CompletionHandler.
type CompletionFunc func(src Source, code Code)

// Finished calls f(src, code).
func (f CompletionFunc) Finished(src Source, code Code) { f(src, code) }

// Adjuster pushes configuration to hardware asynchronously.
// A nil error means h will be called back later; a non-nil error means the
// call was rejected and h will not be called.
type Adjuster interface {
	ApplySettings(h CompletionHandler) error
}

// Driver is the asynchronous hardware object a channel drives.
// Start and Stop return once the request is issued; completion is reported
// through Events.
type Driver interface {
	Adjuster

	// Start requests the hardware operation to begin.
	Start() error

	// Stop requests the hardware operation to end.
	Stop() error
}

// Events receives lifecycle callbacks from a driver.
type Events interface {
	// Started reports that a requested start completed.
	Started(src Source)

	// Stopped reports that the operation ended, requested or not.
	Stopped(src Source)

	// SignalLost reports that the operation runs but its input signal is gone.
	SignalLost(src Source, code Code)

	// Failed reports a failure of the current operation.
	Failed(src Source, code Code)
}

// Factory builds a driver bound to the given event sink.
type Factory func(events Events) Driver
