package channel

import (
	"sync"
	"sync/atomic"

	"github.com/bft-labs/devchannel/pkg/log"
)

// refCount tracks the owner reference plus one lease per outstanding work
// item or apply.
type refCount struct {
	n         atomic.Int32
	ownerOnce sync.Once
	destroy   sync.Once
	done      chan struct{}
}

func (r *refCount) init() {
	r.n.Store(1)
	r.done = make(chan struct{})
}

// lease is a reference held by one posted work item. Release is idempotent.
type lease struct {
	c        *Channel
	released atomic.Bool
}

func (c *Channel) acquire() *lease {
	c.ref()
	return &lease{c: c}
}

func (l *lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.c.unref()
	}
}

func (c *Channel) ref() {
	if c.refs.n.Add(1) == 1 {
		c.logger.Error("reference taken on destroyed channel")
	}
}

func (c *Channel) unref() {
	n := c.refs.n.Add(-1)
	switch {
	case n == 0:
		c.refs.destroy.Do(c.destroy)
	case n < 0:
		c.logger.Error("reference count underflow", log.Int("refs", int(n)))
	}
}

// Release drops the owner reference. Further calls are no-ops. The channel is
// destroyed once every outstanding work item and apply has also finished.
func (c *Channel) Release() {
	c.refs.ownerOnce.Do(c.unref)
}

// Done is closed when the channel is destroyed.
func (c *Channel) Done() <-chan struct{} { return c.refs.done }

// Refs returns the current reference count.
func (c *Channel) Refs() int { return int(c.refs.n.Load()) }

func (c *Channel) destroy() {
	if d, ok := c.hooks.(Destroyer); ok {
		d.OnDestroyed(c)
	}
	close(c.refs.done)
	c.logger.Debug("channel destroyed")
}
