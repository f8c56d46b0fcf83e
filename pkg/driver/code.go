package driver

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a driver completion code.
type Code int32

const (
	// CodeOK reports success.
	CodeOK Code = iota
	// CodeAuthorization reports rejected credentials.
	CodeAuthorization
	// CodeNetwork reports that the device could not be reached.
	CodeNetwork
	// CodeReboot reports that the device is rebooting.
	CodeReboot
	// CodeInternal reports any other driver or device failure.
	CodeInternal
	// CodeTimeout reports that the device did not answer in time.
	CodeTimeout
	// CodeUnsupported reports an operation the device does not implement.
	CodeUnsupported
)

// String returns a human-readable representation of the code.
func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeAuthorization:
		return "Authorization"
	case CodeNetwork:
		return "Network"
	case CodeReboot:
		return "Reboot"
	case CodeInternal:
		return "Internal"
	case CodeTimeout:
		return "Timeout"
	case CodeUnsupported:
		return "Unsupported"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// ParseCode parses a code name as returned by String, case-insensitively.
// The empty string parses as CodeOK.
func ParseCode(s string) (Code, error) {
	if strings.TrimSpace(s) == "" {
		return CodeOK, nil
	}
	for c := CodeOK; c <= CodeUnsupported; c++ {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return CodeOK, fmt.Errorf("unknown driver code %q", s)
}

// OK reports whether c is CodeOK.
func (c Code) OK() bool { return c == CodeOK }

// Error is returned by drivers that reject a call synchronously.
type Error struct {
	Op   string
	Code Code
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("driver %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("driver %s: %s", e.Op, e.Code)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the code carried by err.
// It returns CodeOK for nil and CodeInternal for errors that carry no code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
