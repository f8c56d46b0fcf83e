package channel

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Flags is the channel state bitmask.
type Flags uint32

const (
	FlagSinkConnected     Flags = 0x01
	FlagDeviceConnected   Flags = 0x02
	FlagEnabled           Flags = 0x04
	FlagStarted           Flags = 0x08
	FlagSignal            Flags = 0x10
	FlagApplicationActive Flags = 0x20
)

// environmentMask is the set of flags that must all be present for the
// channel to run.
const environmentMask = FlagSinkConnected | FlagDeviceConnected | FlagEnabled | FlagApplicationActive

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagSinkConnected, "sink"},
	{FlagDeviceConnected, "device"},
	{FlagEnabled, "enabled"},
	{FlagStarted, "started"},
	{FlagSignal, "signal"},
	{FlagApplicationActive, "active"},
}

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// With returns f with mask set.
func (f Flags) With(mask Flags) Flags { return f | mask }

// Without returns f with mask cleared.
func (f Flags) Without(mask Flags) Flags { return f &^ mask }

// EnvironmentReady reports whether sink, device, enabled and application
// active are all set.
func (f Flags) EnvironmentReady() bool { return f.Has(environmentMask) }

// String renders the set flags, e.g. "sink|device|enabled|active".
func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// action is work a flag change requires once the flag lock is released.
type action uint8

const (
	actionEnabled action = iota + 1
	actionDisable
	actionStart
	actionStop
)

func (a action) String() string {
	switch a {
	case actionEnabled:
		return "enabled"
	case actionDisable:
		return "disable"
	case actionStart:
		return "start"
	case actionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// transitions returns the actions for a change from old to new, in the order
// they must run. A disable short-circuits: it stops the channel itself, so
// the environment-ready edge is not evaluated.
func transitions(old, new Flags) []action {
	var acts []action

	wasEnabled, isEnabled := old.Has(FlagEnabled), new.Has(FlagEnabled)
	if !wasEnabled && isEnabled {
		acts = append(acts, actionEnabled)
	}
	if wasEnabled && !isEnabled {
		return append(acts, actionDisable)
	}

	wasReady, isReady := old.EnvironmentReady(), new.EnvironmentReady()
	switch {
	case !wasReady && isReady:
		acts = append(acts, actionStart)
	case wasReady && !isReady:
		acts = append(acts, actionStop)
	}
	return acts
}

// flagState serialises flag mutations. Reads are lock-free.
type flagState struct {
	mu sync.Mutex
	v  atomic.Uint32
}

// load returns the current flags.
func (s *flagState) load() Flags {
	return Flags(s.v.Load())
}

// update sets or clears mask and returns the old and new values together
// with the actions the edge requires. The caller runs the actions after
// update returns, outside the lock.
func (s *flagState) update(mask Flags, on bool) (old, cur Flags, acts []action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old = Flags(s.v.Load())
	if on {
		cur = old.With(mask)
	} else {
		cur = old.Without(mask)
	}
	if cur == old {
		return old, cur, nil
	}
	s.v.Store(uint32(cur))
	return old, cur, transitions(old, cur)
}
