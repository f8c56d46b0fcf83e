package channel

import (
	"sync"
	"time"

	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// Phase is the lifecycle phase of a channel.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseStarted
	PhaseStopping
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseStarting:
		return "Starting"
	case PhaseStarted:
		return "Started"
	case PhaseStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// attempt is one start or stop in flight. signal closes when the driver
// confirms; done closes when the work item has finished with it.
type attempt struct {
	active   bool
	signaled bool
	ok       bool
	signal   chan struct{}
	done     chan struct{}

	// stopped marks a driver stop or failure that arrived after a
	// successful confirmation but before the work item finished.
	stopped bool
}

func (a *attempt) begin() {
	*a = attempt{
		active: true,
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// raise delivers the confirmation. It reports false when there is nothing to
// confirm or the attempt was already confirmed.
func (a *attempt) raise(ok bool) bool {
	if !a.active || a.signaled {
		return false
	}
	a.signaled = true
	a.ok = ok
	close(a.signal)
	return true
}

func (a *attempt) finish() {
	if !a.active {
		return
	}
	a.active = false
	close(a.done)
}

// doneChan returns a channel that is closed once the attempt is not in flight.
func (a *attempt) doneChan() <-chan struct{} {
	if a.active {
		return a.done
	}
	return closed
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type lifecycle struct {
	mu    sync.Mutex
	phase Phase
	start attempt
	stop  attempt
	// idle is closed while the phase is Idle.
	idle chan struct{}
}

func (lc *lifecycle) init() {
	lc.idle = make(chan struct{})
	close(lc.idle)
}

// quiesceLocked waits, dropping mu while blocked, until neither a start nor a
// stop is in flight. mu is held on return.
func (lc *lifecycle) quiesceLocked() {
	for {
		var ch <-chan struct{}
		switch {
		case lc.start.active:
			ch = lc.start.done
		case lc.stop.active:
			ch = lc.stop.done
		default:
			return
		}
		lc.mu.Unlock()
		<-ch
		lc.mu.Lock()
	}
}

func (lc *lifecycle) enterIdleLocked() {
	if lc.phase == PhaseIdle {
		return
	}
	lc.phase = PhaseIdle
	close(lc.idle)
}

func (lc *lifecycle) leaveIdleLocked(p Phase) {
	if lc.phase == PhaseIdle {
		lc.idle = make(chan struct{})
	}
	lc.phase = p
}

// Phase returns the current lifecycle phase.
func (c *Channel) Phase() Phase {
	c.lc.mu.Lock()
	defer c.lc.mu.Unlock()
	return c.lc.phase
}

// PostStart posts a start work item unless the channel is already started.
// It first waits out any start or stop in flight.
func (c *Channel) PostStart() {
	lc := &c.lc
	lc.mu.Lock()
	lc.quiesceLocked()
	if lc.phase != PhaseIdle {
		lc.mu.Unlock()
		c.logger.Debug("start skipped, channel already started")
		return
	}
	lc.start.begin()
	lc.leaveIdleLocked(PhaseStarting)
	lc.mu.Unlock()

	c.logger.Info("start posted", log.Flags("flags", uint32(c.Flags())))
	l := c.acquire()
	if c.opts.dispatcher.Post(func() { c.runStart(l) }) {
		return
	}

	l.Release()
	lc.mu.Lock()
	lc.start.raise(false)
	lc.start.finish()
	lc.enterIdleLocked()
	lc.mu.Unlock()
	c.logger.Error("dispatcher rejected start")
	c.Notify(notify.StateInternalFailure, "", driver.CodeInternal)
}

// PostStop posts a stop work item if the channel is started. An in-flight
// start cannot be canceled, so PostStop waits for it first.
func (c *Channel) PostStop() {
	lc := &c.lc
	lc.mu.Lock()
	lc.quiesceLocked()
	if lc.phase != PhaseStarted {
		lc.mu.Unlock()
		c.logger.Debug("stop skipped, channel not started")
		return
	}
	lc.stop.begin()
	lc.leaveIdleLocked(PhaseStopping)
	lc.mu.Unlock()

	c.logger.Info("stop posted", log.Flags("flags", uint32(c.Flags())))
	l := c.acquire()
	if c.opts.dispatcher.Post(func() { c.runStop(l) }) {
		return
	}
	c.logger.Error("dispatcher rejected stop, stopping inline")
	c.runStop(l)
}

func (c *Channel) runStart(l *lease) {
	defer l.Release()
	lc := &c.lc

	if err := c.hooks.DoStart(c); err != nil {
		c.logger.Error("start request failed", log.Err(err))
		c.fail("", driver.CodeOf(err))
	}

	lc.mu.Lock()
	sig := lc.start.signal
	lc.mu.Unlock()
	c.await(sig, OpStart, c.opts.startTimeout)

	lc.mu.Lock()
	ok := lc.start.ok && !lc.start.stopped
	lc.mu.Unlock()

	if ok {
		c.setFlag(FlagStarted, true)
		c.hooks.OnStarted(c)
		c.logger.Info("channel started", log.Bool("signal", c.HasSignal()))
		c.Notify(notify.StateStarted, "", driver.CodeOK)
	} else {
		c.setFlag(FlagSignal, false)
		c.logger.Warn("start did not complete")
	}

	lc.mu.Lock()
	// A stop may also land while OnStarted runs.
	stoppedLate := ok && lc.start.stopped
	if ok && !stoppedLate {
		lc.phase = PhaseStarted
	} else {
		lc.enterIdleLocked()
	}
	lc.start.finish()
	lc.mu.Unlock()

	if stoppedLate {
		c.spontaneousStop("")
	}
}

func (c *Channel) runStop(l *lease) {
	defer l.Release()
	lc := &c.lc

	if err := c.hooks.DoStop(c); err != nil {
		c.logger.Error("stop request failed, treating channel as stopped", log.Err(err))
		c.RaiseChannelStopped()
	}

	lc.mu.Lock()
	sig := lc.stop.signal
	lc.mu.Unlock()
	c.await(sig, OpStop, c.opts.stopTimeout)

	c.setFlag(FlagStarted|FlagSignal, false)
	c.hooks.OnStopped(c)
	c.logger.Info("channel stopped")
	c.Notify(notify.StateStopped, "", driver.CodeOK)

	lc.mu.Lock()
	lc.enterIdleLocked()
	lc.stop.finish()
	lc.mu.Unlock()
}

// await waits for sig. After timeout it logs, escalates once, and keeps
// waiting without bound.
func (c *Channel) await(sig <-chan struct{}, op Op, timeout time.Duration) {
	if timeout <= 0 {
		<-sig
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-sig:
		return
	case <-t.C:
	}

	c.logger.Error("driver confirmation overdue, still waiting",
		log.String("op", op.String()),
		log.Duration("timeout", timeout))
	if fn := c.opts.onTimeout; fn != nil {
		fn(TimeoutEvent{ChannelID: c.id, Kind: c.kind, Op: op, Waited: timeout})
	}

	began := time.Now()
	<-sig
	c.logger.Warn("overdue driver confirmation arrived",
		log.String("op", op.String()),
		log.Duration("late_by", time.Since(began)))
}

// RaiseChannelStarted confirms the start in flight.
func (c *Channel) RaiseChannelStarted() {
	if !c.raiseStart(true) {
		c.logger.Debug("started signal ignored, no start pending")
	}
}

func (c *Channel) raiseStart(ok bool) bool {
	c.lc.mu.Lock()
	defer c.lc.mu.Unlock()
	return c.lc.start.raise(ok)
}

// RaiseChannelStopped confirms the stop in flight. Without one it either
// fails the start in flight or, if the channel is running, records that the
// driver stopped on its own.
func (c *Channel) RaiseChannelStopped() {
	lc := &c.lc
	lc.mu.Lock()
	if lc.stop.raise(true) {
		lc.mu.Unlock()
		return
	}
	if lc.start.active {
		failed := lc.start.raise(false)
		if !failed && lc.start.ok {
			lc.start.stopped = true
		}
		lc.mu.Unlock()
		c.logger.Warn("driver stopped during start")
		return
	}
	if lc.phase != PhaseStarted {
		lc.mu.Unlock()
		c.logger.Debug("stopped signal ignored, channel not running")
		return
	}
	lc.enterIdleLocked()
	lc.mu.Unlock()
	c.spontaneousStop("")
}

// fail releases every waiter of the attempts in flight and reports the code.
func (c *Channel) fail(src driver.Source, code driver.Code) {
	lc := &c.lc
	lc.mu.Lock()
	raisedStart := lc.start.raise(false)
	raisedStop := lc.stop.raise(true)
	if !raisedStart && lc.start.active && lc.start.ok {
		lc.start.stopped = true
	}
	spontaneous := !raisedStart && !raisedStop && lc.phase == PhaseStarted
	if spontaneous {
		lc.enterIdleLocked()
	}
	lc.mu.Unlock()

	state, ok := notify.FromCode(code)
	if !ok {
		state, code = notify.StateInternalFailure, driver.CodeInternal
	}
	c.logger.Error("channel failed",
		log.String("source", string(src)),
		log.String("code", code.String()))
	c.Notify(state, src, code)

	if spontaneous {
		c.spontaneousStop(src)
	}
}

func (c *Channel) spontaneousStop(src driver.Source) {
	c.setFlag(FlagStarted|FlagSignal, false)
	c.hooks.OnStopped(c)
	c.logger.Warn("channel stopped by driver", log.String("source", string(src)))
	c.Notify(notify.StateStopped, src, driver.CodeOK)
}

// WaitForStart blocks while a start is in flight.
func (c *Channel) WaitForStart() {
	c.lc.mu.Lock()
	ch := c.lc.start.doneChan()
	c.lc.mu.Unlock()
	<-ch
}

// WaitForStop blocks while a stop is in flight.
func (c *Channel) WaitForStop() {
	c.lc.mu.Lock()
	ch := c.lc.stop.doneChan()
	c.lc.mu.Unlock()
	<-ch
}

// BeginFinalization clears the application-active flag, which stops a
// running channel.
func (c *Channel) BeginFinalization() {
	c.logger.Info("finalization started")
	c.setFlag(FlagApplicationActive, false)
}

// EndFinalization waits for the channel to be idle, runs OnFinalized and
// hands the channel back to its owner.
func (c *Channel) EndFinalization() {
	c.lc.mu.Lock()
	phase, idle := c.lc.phase, c.lc.idle
	c.lc.mu.Unlock()

	if phase != PhaseIdle {
		c.await(idle, OpFinalize, c.opts.stopTimeout)
	}
	c.WaitForStop()
	c.hooks.OnFinalized(c)

	c.ownerMu.Lock()
	owner := c.owner
	c.owner = nil
	c.ownerMu.Unlock()
	if owner != nil {
		owner.ChannelReleased(c)
	}
	c.logger.Info("finalization finished")
}

// Started confirms a start initiated with Driver.Start, or reports that a
// running channel has regained signal. Implements driver.Events.
func (c *Channel) Started(src driver.Source) {
	c.lc.mu.Lock()
	pending := c.lc.start.active && !c.lc.start.signaled
	running := c.lc.phase == PhaseStarted
	c.lc.mu.Unlock()

	switch {
	case pending:
		c.setFlag(FlagSignal, true)
		c.RaiseChannelStarted()
	case running:
		c.setFlag(FlagSignal, true)
		c.logger.Info("signal restored", log.String("source", string(src)))
	default:
		c.logger.Debug("driver started signal ignored, no start pending",
			log.String("source", string(src)))
	}
}

// Stopped confirms a stop. Implements driver.Events.
func (c *Channel) Stopped(src driver.Source) {
	c.RaiseChannelStopped()
}

// SignalLost records loss of signal. A pending start completes and the
// channel runs without signal. Implements driver.Events.
func (c *Channel) SignalLost(src driver.Source, code driver.Code) {
	c.setFlag(FlagSignal, false)
	c.raiseStart(true)
	c.logger.Warn("signal lost",
		log.String("source", string(src)),
		log.String("code", code.String()))
	c.Notify(notify.StateSignalLost, src, code)
}

// Failed reports a driver failure. Every waiter is released. Implements
// driver.Events.
func (c *Channel) Failed(src driver.Source, code driver.Code) {
	c.fail(src, code)
}
