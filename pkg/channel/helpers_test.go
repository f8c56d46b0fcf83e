package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/notify"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

// recordingHooks records every hook call. With manual set, DoStart and DoStop
// leave confirmation to the test.
type recordingHooks struct {
	BaseHooks

	manual   bool
	startErr error
	stopErr  error
	// startGate, when non-nil, blocks DoStart until closed.
	startGate chan struct{}

	mu    sync.Mutex
	calls []string
}

func (h *recordingHooks) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
}

func (h *recordingHooks) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHooks) Count(name string) int {
	n := 0
	for _, c := range h.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (h *recordingHooks) DoStart(c *Channel) error {
	h.record("DoStart")
	if h.startGate != nil {
		<-h.startGate
	}
	if h.startErr != nil {
		return h.startErr
	}
	if !h.manual {
		c.RaiseChannelStarted()
	}
	return nil
}

func (h *recordingHooks) DoStop(c *Channel) error {
	h.record("DoStop")
	if h.stopErr != nil {
		return h.stopErr
	}
	if !h.manual {
		c.RaiseChannelStopped()
	}
	return nil
}

func (h *recordingHooks) OnStarted(*Channel)   { h.record("OnStarted") }
func (h *recordingHooks) OnStopped(*Channel)   { h.record("OnStopped") }
func (h *recordingHooks) OnEnabled(*Channel)   { h.record("OnEnabled") }
func (h *recordingHooks) OnDisabled(*Channel)  { h.record("OnDisabled") }
func (h *recordingHooks) OnFinalized(*Channel) { h.record("OnFinalized") }
func (h *recordingHooks) OnDestroyed(*Channel) { h.record("OnDestroyed") }

func (h *recordingHooks) ApplyCompleted(c *Channel, src driver.Source, code driver.Code) {
	h.record("ApplyCompleted")
	h.BaseHooks.ApplyCompleted(c, src, code)
}

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Notify(ev notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) States() []notify.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]notify.State, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.State)
	}
	return out
}

func (l *eventLog) Has(s notify.State) bool {
	for _, st := range l.States() {
		if st == s {
			return true
		}
	}
	return false
}

type ownerLog struct {
	mu       sync.Mutex
	released []*Channel
}

func (o *ownerLog) ChannelReleased(c *Channel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, c)
}

func (o *ownerLog) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.released)
}

// makeReady sets every environment flag.
func makeReady(c *Channel) {
	c.SetDeviceConnected(true)
	c.SetSinkConnected(true)
	c.SetEnabled(true)
}

func requireStarted(t *testing.T, c *Channel) {
	t.Helper()
	assert.Eventually(t, c.IsStarted, waitFor, tick)
	c.WaitForStart()
}

// returnsWithin runs fn in a goroutine and reports a channel closed when it
// returns.
func returnsWithin(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
