package channel

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/notify"
)

func TestChannel_InitialState(t *testing.T) {
	c := New("cam-1", KindVideoSource, nil)

	assert.Equal(t, FlagApplicationActive, c.Flags())
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, 1, c.Refs())
	assert.Equal(t, "video_source(cam-1)", c.String())

	// Nothing in flight: waits return at once.
	c.WaitForStart()
	c.WaitForStop()
	c.WaitForApply()
}

func TestChannel_GeneratesID(t *testing.T) {
	a := New("", KindTelemetry, nil)
	b := New("", KindTelemetry, nil)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestChannel_StartsOnceInAnyOrder(t *testing.T) {
	setters := map[string]func(*Channel){
		"device":  func(c *Channel) { c.SetDeviceConnected(true) },
		"sink":    func(c *Channel) { c.SetSinkConnected(true) },
		"enabled": func(c *Channel) { c.SetEnabled(true) },
	}
	orders := [][]string{
		{"device", "sink", "enabled"},
		{"device", "enabled", "sink"},
		{"sink", "device", "enabled"},
		{"sink", "enabled", "device"},
		{"enabled", "device", "sink"},
		{"enabled", "sink", "device"},
	}

	for _, order := range orders {
		t.Run(order[0]+"-"+order[1]+"-"+order[2], func(t *testing.T) {
			h := &recordingHooks{}
			c := New("ch", KindAudioSource, h)

			for i, name := range order {
				setters[name](c)
				if i < 2 {
					assert.Equal(t, 0, h.Count("DoStart"), "started before %s", name)
				}
			}
			requireStarted(t, c)
			assert.Equal(t, 1, h.Count("DoStart"))
			assert.Equal(t, 1, h.Count("OnEnabled"))
			assert.Equal(t, PhaseStarted, c.Phase())

			c.SetEnabled(false)
			assert.Equal(t, 1, h.Count("DoStop"))
			assert.Equal(t, 1, h.Count("OnDisabled"))
			assert.False(t, c.IsStarted())
			assert.Equal(t, PhaseIdle, c.Phase())
			c.WaitForStop()
		})
	}
}

func TestChannel_RedundantEdgesDoNotRestart(t *testing.T) {
	h := &recordingHooks{}
	c := New("ch", KindAudioSource, h)
	makeReady(c)
	requireStarted(t, c)

	c.SetDeviceConnected(true)
	c.SetSinkConnected(true)
	c.PostStart()
	assert.Equal(t, 1, h.Count("DoStart"))
}

func TestChannel_EnvironmentLossStops(t *testing.T) {
	h := &recordingHooks{}
	c := New("ch", KindIOPanel, h)
	makeReady(c)
	requireStarted(t, c)

	c.SetSinkConnected(false)
	assert.Eventually(t, func() bool { return c.Phase() == PhaseIdle }, waitFor, tick)
	assert.Equal(t, 1, h.Count("DoStop"))
	assert.False(t, c.IsStarted())

	c.SetSinkConnected(true)
	assert.Eventually(t, c.IsStarted, waitFor, tick)
	assert.Equal(t, 2, h.Count("DoStart"))
}

func TestChannel_DisableBlocksUntilStopped(t *testing.T) {
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h)
	makeReady(c)
	c.RaiseChannelStarted()
	requireStarted(t, c)

	done := returnsWithin(func() { c.SetEnabled(false) })
	assert.Eventually(t, func() bool { return h.Count("DoStop") == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return isClosed(done) }, 50*time.Millisecond, tick)
	assert.Equal(t, PhaseStopping, c.Phase())

	c.RaiseChannelStopped()
	assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
	assert.False(t, c.IsStarted())
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestChannel_StopWaitsForInFlightStart(t *testing.T) {
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h)
	makeReady(c)
	assert.Eventually(t, func() bool { return h.Count("DoStart") == 1 }, waitFor, tick)

	done := returnsWithin(func() { c.SetSinkConnected(false) })
	assert.Never(t, func() bool { return h.Count("DoStop") > 0 }, 50*time.Millisecond, tick)

	c.RaiseChannelStarted()
	assert.Eventually(t, func() bool { return h.Count("DoStop") == 1 }, waitFor, tick)
	c.RaiseChannelStopped()
	assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
	c.WaitForStop()

	assert.Equal(t, []string{"OnEnabled", "DoStart", "OnStarted", "DoStop", "OnStopped"}, h.Calls())
}

func TestChannel_DuplicateSignalsIgnored(t *testing.T) {
	h := &recordingHooks{manual: true}
	c := New("ch", KindTelemetry, h)

	// No attempt in flight.
	c.RaiseChannelStarted()
	c.RaiseChannelStopped()
	assert.Equal(t, PhaseIdle, c.Phase())

	makeReady(c)
	c.RaiseChannelStarted()
	c.RaiseChannelStarted()
	requireStarted(t, c)
	assert.Equal(t, 1, h.Count("OnStarted"))

	done := returnsWithin(func() { c.SetEnabled(false) })
	assert.Eventually(t, func() bool { return h.Count("DoStop") == 1 }, waitFor, tick)
	c.RaiseChannelStopped()
	c.RaiseChannelStopped()
	assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
	assert.Equal(t, 1, h.Count("OnStopped"))
}

func TestChannel_SpontaneousStop(t *testing.T) {
	events := &eventLog{}
	h := &recordingHooks{}
	c := New("ch", KindAudioDestination, h, WithNotifier(events))
	makeReady(c)
	requireStarted(t, c)

	c.Stopped("dev")
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, c.IsStarted())
	assert.Equal(t, 1, h.Count("OnStopped"))
	assert.Equal(t, 0, h.Count("DoStop"))
	assert.True(t, events.Has(notify.StateStopped))

	// Already idle: disabling has nothing to stop.
	c.SetEnabled(false)
	assert.Equal(t, 0, h.Count("DoStop"))
}

func TestChannel_StoppedDuringStartFailsStart(t *testing.T) {
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h)
	makeReady(c)

	c.RaiseChannelStopped()
	c.WaitForStart()
	assert.Eventually(t, func() bool { return c.Phase() == PhaseIdle }, waitFor, tick)
	assert.False(t, c.IsStarted())
	assert.Equal(t, 0, h.Count("OnStarted"))
}

// dropAfterStartHooks confirms the start and then reports the driver down
// before DoStart returns.
type dropAfterStartHooks struct {
	recordingHooks
	drop func(c *Channel)
}

func (h *dropAfterStartHooks) DoStart(c *Channel) error {
	h.record("DoStart")
	c.Started("drv")
	h.drop(c)
	return nil
}

func TestChannel_DriverDownAfterStartConfirmed(t *testing.T) {
	tests := []struct {
		name string
		drop func(c *Channel)
		// want is the failure state reported, zero when none is expected.
		want notify.State
	}{
		{"stopped", func(c *Channel) { c.Stopped("drv") }, 0},
		{"failed", func(c *Channel) { c.Failed("drv", driver.CodeNetwork) }, notify.StateNetworkFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &eventLog{}
			h := &dropAfterStartHooks{drop: tt.drop}
			c := New("ch", KindVideoSource, h, WithNotifier(events))
			makeReady(c)
			c.WaitForStart()

			assert.Equal(t, 1, h.Count("DoStart"))
			assert.Equal(t, PhaseIdle, c.Phase())
			assert.False(t, c.IsStarted())
			assert.False(t, c.HasSignal())
			assert.Equal(t, 0, h.Count("OnStarted"))
			assert.False(t, events.Has(notify.StateStarted))
			if tt.want != 0 {
				assert.True(t, events.Has(tt.want))
			}

			// The driver is down: disabling has nothing to stop.
			c.SetEnabled(false)
			assert.Equal(t, 0, h.Count("DoStop"))
		})
	}
}

// dropInOnStartedHooks reports the driver stopped while OnStarted runs.
type dropInOnStartedHooks struct {
	recordingHooks
}

func (h *dropInOnStartedHooks) OnStarted(c *Channel) {
	h.record("OnStarted")
	c.Stopped("drv")
}

func TestChannel_DriverStoppedDuringOnStarted(t *testing.T) {
	events := &eventLog{}
	h := &dropInOnStartedHooks{}
	c := New("ch", KindAudioSource, h, WithNotifier(events))
	makeReady(c)
	c.WaitForStart()

	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, c.IsStarted())
	assert.Equal(t, 1, h.Count("OnStarted"))
	assert.Equal(t, 1, h.Count("OnStopped"))
	assert.Equal(t, []notify.State{notify.StateStarted, notify.StateStopped}, events.States())

	c.SetEnabled(false)
	assert.Equal(t, 0, h.Count("DoStop"))
}

// overlapHooks counts DoStart and DoStop calls that run at the same time.
type overlapHooks struct {
	BaseHooks

	active   atomic.Int32
	overlaps atomic.Int32
	starts   atomic.Int32
	stops    atomic.Int32
}

func (h *overlapHooks) enter() {
	if h.active.Add(1) > 1 {
		h.overlaps.Add(1)
	}
}

func (h *overlapHooks) DoStart(c *Channel) error {
	h.enter()
	h.starts.Add(1)
	time.Sleep(50 * time.Microsecond)
	h.active.Add(-1)
	c.RaiseChannelStarted()
	return nil
}

func (h *overlapHooks) DoStop(c *Channel) error {
	h.enter()
	h.stops.Add(1)
	time.Sleep(50 * time.Microsecond)
	h.active.Add(-1)
	c.RaiseChannelStopped()
	return nil
}

func TestChannel_ConcurrentTogglesNeverOverlap(t *testing.T) {
	const (
		workers = 6
		toggles = 300
	)
	h := &overlapHooks{}
	c := New("ch", KindVideoSource, h)
	setters := []func(bool){c.SetEnabled, c.SetDeviceConnected, c.SetSinkConnected}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < toggles; i++ {
				setters[rng.Intn(len(setters))](rng.Intn(2) == 1)
			}
		}(int64(w + 1))
	}
	wg.Wait()

	settled := func() bool {
		p := c.Phase()
		if p == PhaseStarting || p == PhaseStopping {
			return false
		}
		return (p == PhaseStarted) == c.EnvironmentReady()
	}
	assert.Eventually(t, settled, waitFor, tick)
	assert.Zero(t, h.overlaps.Load())
	assert.Equal(t, c.IsStarted(), c.Phase() == PhaseStarted)
	t.Logf("starts=%d stops=%d phase=%s", h.starts.Load(), h.stops.Load(), c.Phase())
}

func TestChannel_DoStartError(t *testing.T) {
	events := &eventLog{}
	h := &recordingHooks{startErr: &driver.Error{Op: "start", Code: driver.CodeAuthorization, Err: errors.New("denied")}}
	c := New("ch", KindVideoSource, h, WithNotifier(events))
	makeReady(c)

	assert.Eventually(t, func() bool { return events.Has(notify.StateAuthorizationFailure) }, waitFor, tick)
	c.WaitForStart()
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, c.IsStarted())
	assert.Equal(t, 0, h.Count("OnStarted"))
}

func TestChannel_DoStopErrorTreatedAsStopped(t *testing.T) {
	h := &recordingHooks{stopErr: errors.New("boom")}
	c := New("ch", KindVideoSource, h)
	makeReady(c)
	requireStarted(t, c)

	c.SetEnabled(false)
	assert.False(t, c.IsStarted())
	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, 1, h.Count("OnStopped"))
}

func TestChannel_FailedReleasesWaiters(t *testing.T) {
	t.Run("during start", func(t *testing.T) {
		events := &eventLog{}
		h := &recordingHooks{manual: true}
		c := New("ch", KindVideoSource, h, WithNotifier(events))
		makeReady(c)

		c.Failed("dev", driver.CodeReboot)
		c.WaitForStart()
		assert.Eventually(t, func() bool { return c.Phase() == PhaseIdle }, waitFor, tick)
		assert.Equal(t, []notify.State{notify.StateReboot}, events.States())
	})

	t.Run("during stop", func(t *testing.T) {
		h := &recordingHooks{manual: true}
		c := New("ch", KindVideoSource, h)
		makeReady(c)
		c.RaiseChannelStarted()
		requireStarted(t, c)

		done := returnsWithin(func() { c.SetEnabled(false) })
		assert.Eventually(t, func() bool { return h.Count("DoStop") == 1 }, waitFor, tick)
		c.Failed("dev", driver.CodeNetwork)
		assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
		assert.False(t, c.IsStarted())
	})

	t.Run("while running", func(t *testing.T) {
		events := &eventLog{}
		h := &recordingHooks{}
		c := New("ch", KindVideoSource, h, WithNotifier(events))
		makeReady(c)
		requireStarted(t, c)

		c.Failed("dev", driver.CodeOK)
		assert.Equal(t, PhaseIdle, c.Phase())
		assert.False(t, c.IsStarted())
		assert.Contains(t, events.States(), notify.StateInternalFailure)
		assert.Contains(t, events.States(), notify.StateStopped)
	})
}

func TestChannel_StartPostRejected(t *testing.T) {
	events := &eventLog{}
	h := &recordingHooks{}
	c := New("ch", KindVideoSource, h, WithDispatcher(dispatch.Reject{}), WithNotifier(events))
	makeReady(c)

	assert.Equal(t, PhaseIdle, c.Phase())
	assert.Equal(t, 0, h.Count("DoStart"))
	assert.Equal(t, 1, c.Refs())
	assert.Equal(t, []notify.State{notify.StateInternalFailure}, events.States())
	c.WaitForStart()
}

func TestChannel_StopPostRejectedRunsInline(t *testing.T) {
	var posts atomic.Int32
	d := dispatch.Func(func(fn func()) bool {
		if posts.Add(1) > 1 {
			return false
		}
		go fn()
		return true
	})
	h := &recordingHooks{}
	c := New("ch", KindVideoSource, h, WithDispatcher(d))
	makeReady(c)
	requireStarted(t, c)

	c.SetEnabled(false)
	assert.Equal(t, 1, h.Count("DoStop"))
	assert.False(t, c.IsStarted())
	assert.Eventually(t, func() bool { return c.Refs() == 1 }, waitFor, tick)
}

func TestChannel_StopTimeoutEscalates(t *testing.T) {
	var fired atomic.Pointer[TimeoutEvent]
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h,
		WithStopTimeout(20*time.Millisecond),
		WithTimeoutHandler(func(ev TimeoutEvent) { fired.Store(&ev) }))
	makeReady(c)
	c.RaiseChannelStarted()
	requireStarted(t, c)

	done := returnsWithin(func() { c.SetEnabled(false) })
	assert.Eventually(t, func() bool { return fired.Load() != nil }, waitFor, tick)

	ev := fired.Load()
	assert.Equal(t, OpStop, ev.Op)
	assert.Equal(t, "ch", ev.ChannelID)
	assert.Equal(t, 20*time.Millisecond, ev.Waited)
	assert.False(t, isClosed(done), "wait continues past the timeout")

	c.RaiseChannelStopped()
	assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
}

func TestChannel_StartTimeoutEscalates(t *testing.T) {
	var fired atomic.Int32
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h,
		WithStartTimeout(10*time.Millisecond),
		WithTimeoutHandler(func(ev TimeoutEvent) {
			if ev.Op == OpStart {
				fired.Add(1)
			}
		}))
	makeReady(c)

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
	assert.Equal(t, PhaseStarting, c.Phase())
	c.RaiseChannelStarted()
	requireStarted(t, c)
}

func TestChannel_NotifierPanicContained(t *testing.T) {
	boom := notify.Func(func(notify.Event) { panic("notifier bug") })
	c := New("ch", KindVideoSource, &recordingHooks{}, WithNotifier(boom))
	makeReady(c)
	requireStarted(t, c)

	assert.NotPanics(t, func() { c.Failed("dev", driver.CodeNetwork) })
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestChannel_Finalization(t *testing.T) {
	owner := &ownerLog{}
	h := &recordingHooks{}
	c := New("ch", KindVideoSource, h, WithOwner(owner))
	makeReady(c)
	requireStarted(t, c)

	c.BeginFinalization()
	c.EndFinalization()

	assert.Equal(t, PhaseIdle, c.Phase())
	assert.False(t, c.IsStarted())
	assert.False(t, c.Flags().Has(FlagApplicationActive))
	assert.Equal(t, 1, owner.Count())
	assert.Nil(t, c.Owner())
	assert.Equal(t, 1, h.Count("OnFinalized"))

	c.Release()
	assert.Eventually(t, func() bool { return isClosed(c.Done()) }, waitFor, tick)
	assert.Equal(t, 1, h.Count("OnDestroyed"))

	// Finalized channels do not restart.
	c.SetSinkConnected(false)
	c.SetSinkConnected(true)
	assert.Equal(t, 1, h.Count("DoStart"))
}

func TestChannel_EndFinalizationWaitsForStop(t *testing.T) {
	owner := &ownerLog{}
	h := &recordingHooks{manual: true}
	c := New("ch", KindVideoSource, h, WithOwner(owner))
	makeReady(c)
	c.RaiseChannelStarted()
	requireStarted(t, c)

	c.BeginFinalization()
	done := returnsWithin(c.EndFinalization)
	assert.Never(t, func() bool { return isClosed(done) }, 50*time.Millisecond, tick)
	assert.Equal(t, 0, owner.Count())

	c.RaiseChannelStopped()
	assert.Eventually(t, func() bool { return isClosed(done) }, waitFor, tick)
	assert.Equal(t, 1, owner.Count())
}

func TestChannel_ReleaseDuringStart(t *testing.T) {
	gate := make(chan struct{})
	h := &recordingHooks{startGate: gate}
	c := New("ch", KindVideoSource, h)
	makeReady(c)
	assert.Eventually(t, func() bool { return h.Count("DoStart") == 1 }, waitFor, tick)

	c.Release()
	assert.Never(t, func() bool { return isClosed(c.Done()) }, 50*time.Millisecond, tick)
	assert.Equal(t, 0, h.Count("OnDestroyed"))

	close(gate)
	assert.Eventually(t, func() bool { return isClosed(c.Done()) }, waitFor, tick)
	assert.Equal(t, 1, h.Count("OnStarted"))
}

func TestChannel_ReleaseIsIdempotent(t *testing.T) {
	c := New("ch", KindDeviceNode, nil)
	c.Release()
	c.Release()
	require.True(t, isClosed(c.Done()))
	assert.Equal(t, 0, c.Refs())
}
