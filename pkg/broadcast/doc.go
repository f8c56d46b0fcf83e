// Package broadcast waits for one bulk settings-apply operation that spans
// many channels.
//
// A Broadcaster is created per bulk operation. Each channel's completion
// handler is wrapped with Wrap before the channel issues its apply; the
// returned fan-out delivers the single driver completion to both the channel
// and the broadcaster. Wait returns once every wrapped handler has finished,
// regardless of the order or goroutine the completions arrive on.
//
//	b := broadcast.New(broadcast.WithLogger(logger))
//	for _, ch := range changed {
//	    if err := ch.ApplyChanges(b); err != nil {
//	        logger.Warn("apply skipped", log.Err(err))
//	    }
//	}
//	b.Wait()
//
// All wrapping must happen before Wait is called; Wait on a broadcaster with
// nothing outstanding returns immediately.
package broadcast
