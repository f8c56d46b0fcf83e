// Package dispatch runs channel work items off the calling goroutine.
//
// A Dispatcher accepts closures through Post and may reject them; rejection is
// reported to the caller, never retried. Pool is a fixed-size worker pool with
// a bounded queue. Go starts one goroutine per task and never rejects.
//
// # Usage
//
//	pool := dispatch.NewPool(dispatch.DefaultPoolConfig(), logger)
//	defer pool.Close(dispatch.DefaultCloseTimeout)
//
//	if !pool.Post(func() { doWork() }) {
//	    logger.Error("work rejected")
//	}
package dispatch
