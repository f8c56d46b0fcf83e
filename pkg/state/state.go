package state

import (
	"sort"
	"time"

	"github.com/bft-labs/devchannel/pkg/notify"
)

// ChannelState is the last notification recorded for one channel.
type ChannelState struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Code      string    `json:"code,omitempty"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Running reports whether the channel's last notification left it started.
func (c ChannelState) Running() bool {
	return c.State == notify.StateStarted.String() || c.State == notify.StateSignalLost.String()
}

// State is a device snapshot.
type State struct {
	DeviceID string         `json:"device_id"`
	Channels []ChannelState `json:"channels"`

	// Clean is set by the final save of an orderly shutdown.
	Clean   bool      `json:"clean"`
	SavedAt time.Time `json:"saved_at"`
}

// Empty reports whether no snapshot has ever been saved.
func (s State) Empty() bool {
	return s.SavedAt.IsZero()
}

// Unclean returns the channels still running in a snapshot that was not
// saved by an orderly shutdown.
func (s State) Unclean() []ChannelState {
	if s.Clean {
		return nil
	}
	var out []ChannelState
	for _, c := range s.Channels {
		if c.Running() {
			out = append(out, c)
		}
	}
	return out
}

func fromEvent(ev notify.Event) ChannelState {
	cs := ChannelState{
		ID:        ev.ChannelID,
		Kind:      ev.Kind,
		State:     ev.State.String(),
		Source:    string(ev.Source),
		UpdatedAt: ev.Time,
	}
	if !ev.Code.OK() {
		cs.Code = ev.Code.String()
	}
	return cs
}

func sorted(m map[string]ChannelState) []ChannelState {
	out := make([]ChannelState, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
