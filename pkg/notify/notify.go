package notify

import (
	"time"

	"github.com/bft-labs/devchannel/pkg/driver"
)

// State is a semantic channel state.
type State uint8

const (
	StateStarted State = iota + 1
	StateStopped
	StateSignalLost
	StateAuthorizationFailure
	StateNetworkFailure
	StateReboot
	StateInternalFailure
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStarted:
		return "Started"
	case StateStopped:
		return "Stopped"
	case StateSignalLost:
		return "SignalLost"
	case StateAuthorizationFailure:
		return "AuthorizationFailure"
	case StateNetworkFailure:
		return "NetworkFailure"
	case StateReboot:
		return "Reboot"
	case StateInternalFailure:
		return "InternalFailure"
	default:
		return "Unknown"
	}
}

// FromCode maps a driver code to the state it should be reported as.
// It returns false for CodeOK, which reports nothing.
func FromCode(code driver.Code) (State, bool) {
	switch code {
	case driver.CodeOK:
		return 0, false
	case driver.CodeAuthorization:
		return StateAuthorizationFailure, true
	case driver.CodeNetwork, driver.CodeTimeout:
		return StateNetworkFailure, true
	case driver.CodeReboot:
		return StateReboot, true
	default:
		return StateInternalFailure, true
	}
}

// Event is one notification.
type Event struct {
	ID        string        `cbor:"1,keyasint"`
	ChannelID string        `cbor:"2,keyasint"`
	Kind      string        `cbor:"3,keyasint"`
	State     State         `cbor:"4,keyasint"`
	Code      driver.Code   `cbor:"5,keyasint,omitempty"`
	Source    driver.Source `cbor:"6,keyasint,omitempty"`
	Time      time.Time     `cbor:"7,keyasint"`
}

// Notifier receives notifications. Implementations must be safe for
// concurrent use and should return quickly: Notify is called from driver
// callback goroutines.
type Notifier interface {
	Notify(ev Event)
}

// Func adapts a function to Notifier.
type Func func(ev Event)

// Notify calls f(ev).
func (f Func) Notify(ev Event) { f(ev) }

// Nop discards notifications.
type Nop struct{}

// Notify discards ev.
func (Nop) Notify(Event) {}

// Multi delivers every notification to each notifier in order.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}
