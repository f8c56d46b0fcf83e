// Package lifecycle provides the service state machine of a channel host.
//
// A host moves through Stopped, Starting, Running and Stopping. Crashed
// records a failed start or a shutdown that timed out; a crashed host may be
// started again.
//
// # Usage
//
//	manager := lifecycle.NewManager(logger, emitter)
//
//	if err := manager.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
//	    return err
//	}
//
//	manager.AddWorker()
//	go func() {
//	    defer manager.WorkerDone()
//	    // ... supervise channels ...
//	}()
//
//	if err := manager.WaitWithTimeout(30 * time.Second); err != nil {
//	    return err
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
//
// State change events are emitted outside the manager lock.
package lifecycle
