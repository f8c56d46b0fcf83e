// Package channel implements the lifecycle core shared by every
// hardware-facing channel: video and audio sources, audio destinations,
// telemetry heads, I/O panels, text-event sources and generic device nodes.
//
// A Channel owns a set of flags. Whenever the composite environment-ready
// condition (sink connected, device connected, enabled, application active)
// becomes true the channel posts a start to its dispatcher; when it becomes
// false the channel posts a stop. Disabling a channel always forces a stop
// and waits for it.
//
// Starts and stops are asynchronous: the work item issues the driver call and
// then waits for the driver to confirm from its own goroutine. At most one
// start and one stop exist per channel, and a new one waits out the
// opposite, so DoStart and DoStop never overlap.
//
// # State Machine
//
// Valid phase transitions:
//   - Idle -> Starting       [PostStart]
//   - Starting -> Started    [start confirmed]
//   - Starting -> Idle       [start failed]
//   - Started -> Stopping    [PostStop]
//   - Started -> Idle        [driver stopped or failed on its own]
//   - Stopping -> Idle       [stop confirmed]
//
// # Apply gate
//
// ApplySettings counts outstanding driver apply calls; WaitForApply blocks
// until all of them have called back. Duplicate completions from a buggy
// driver are logged and ignored.
//
// # Teardown
//
// The owner calls BeginFinalization, then EndFinalization, then Release. The
// channel is destroyed only once every posted work item and outstanding
// apply has finished.
package channel
