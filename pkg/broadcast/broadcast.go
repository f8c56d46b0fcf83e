package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
)

// ErrWaitTimeout is returned by WaitTimeout when completions are still
// outstanding at the deadline.
var ErrWaitTimeout = errors.New("broadcast: wait timeout")

// Summary describes a finished or in-progress bulk operation.
type Summary struct {
	// ID identifies the bulk operation in logs.
	ID string

	// Wrapped is the number of handlers wrapped so far.
	Wrapped int

	// Completed is the number of completions received.
	Completed int

	// Failed maps sources to the non-OK codes they reported.
	Failed map[driver.Source]driver.Code
}

// OK reports whether every completion so far succeeded.
func (s Summary) OK() bool { return len(s.Failed) == 0 }

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(b *Broadcaster) { b.logger = log.OrNoop(l) }
}

// WithID overrides the generated operation id.
func WithID(id string) Option {
	return func(b *Broadcaster) { b.id = id }
}

// Broadcaster counts outstanding apply completions across channels.
// It is safe for concurrent use.
type Broadcaster struct {
	id     string
	logger log.Logger

	mu        sync.Mutex
	pending   int
	wrapped   int
	completed int
	failed    map[driver.Source]driver.Code
	idle      chan struct{}
}

// New creates a broadcaster with nothing outstanding.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		id:     uuid.NewString(),
		logger: log.NewNoopLogger(),
		failed: make(map[driver.Source]driver.Code),
		idle:   closedChan(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(log.String("bulk", b.id))
	return b
}

// ID returns the operation id.
func (b *Broadcaster) ID() string { return b.id }

// Wrap registers one outstanding completion and returns a handler that
// forwards the completion to h, then to the broadcaster. h may be nil.
func (b *Broadcaster) Wrap(h driver.CompletionHandler) driver.CompletionHandler {
	b.mu.Lock()
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending++
	b.wrapped++
	n := b.pending
	b.mu.Unlock()

	b.logger.Debug("apply wrapped", log.Int("pending", n))
	return &fanout{inner: h, owner: b}
}

// Finished records one completion. It is normally reached through a handler
// returned by Wrap.
func (b *Broadcaster) Finished(src driver.Source, code driver.Code) {
	b.mu.Lock()
	if b.pending == 0 {
		b.mu.Unlock()
		b.logger.Error("unbalanced completion ignored",
			log.String("source", string(src)),
			log.String("code", code.String()),
		)
		return
	}
	b.pending--
	b.completed++
	if !code.OK() {
		b.failed[src] = code
	}
	n := b.pending
	if n == 0 {
		close(b.idle)
	}
	b.mu.Unlock()

	b.logger.Debug("apply completed",
		log.String("source", string(src)),
		log.String("code", code.String()),
		log.Int("pending", n),
	)
}

// Pending returns the number of outstanding completions.
func (b *Broadcaster) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Wait blocks until every wrapped handler has finished.
func (b *Broadcaster) Wait() {
	<-b.Done()
}

// WaitTimeout is Wait with a deadline.
func (b *Broadcaster) WaitTimeout(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.Done():
		return nil
	case <-t.C:
		b.logger.Warn("bulk apply still outstanding", log.Int("pending", b.Pending()))
		return ErrWaitTimeout
	}
}

// Summary returns a snapshot of the operation.
func (b *Broadcaster) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	failed := make(map[driver.Source]driver.Code, len(b.failed))
	for k, v := range b.failed {
		failed[k] = v
	}
	return Summary{ID: b.id, Wrapped: b.wrapped, Completed: b.completed, Failed: failed}
}

// Done returns a channel closed once every handler wrapped so far has
// finished. A later Wrap starts a new round with a new channel.
func (b *Broadcaster) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idle
}

// fanout delivers one completion to the wrapped handler and its broadcaster.
type fanout struct {
	inner driver.CompletionHandler
	owner *Broadcaster
	done  atomic.Bool
}

func (f *fanout) Finished(src driver.Source, code driver.Code) {
	if f.inner != nil {
		f.inner.Finished(src, code)
	}
	if !f.done.CompareAndSwap(false, true) {
		f.owner.logger.Error("duplicate completion not counted",
			log.String("source", string(src)),
		)
		return
	}
	f.owner.Finished(src, code)
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
