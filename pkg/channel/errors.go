package channel

import "errors"

// Channel errors. Check with errors.Is.
var (
	// ErrNoAdjuster is returned when a channel has no settings adjuster.
	ErrNoAdjuster = errors.New("devchannel: channel has no settings adjuster")

	// ErrUnknownKind is returned by ParseKind for unrecognised names.
	ErrUnknownKind = errors.New("devchannel: unknown channel kind")
)
