package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/devchannel/pkg/log"
)

// Pool defaults.
const (
	DefaultWorkers      = 16
	DefaultQueueSize    = 256
	DefaultCloseTimeout = 30 * time.Second
)

// ErrCloseTimeout is returned when queued work does not finish in time.
var ErrCloseTimeout = errors.New("dispatch: close timeout")

// PoolConfig sizes a Pool.
type PoolConfig struct {
	// Workers is the number of goroutines executing tasks.
	Workers int

	// QueueSize is the number of tasks that may wait for a worker.
	// Post rejects once the queue is full.
	QueueSize int
}

// DefaultPoolConfig returns a PoolConfig with default sizes.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: DefaultWorkers, QueueSize: DefaultQueueSize}
}

// Pool is a fixed-size worker pool.
//
// Channel work items block their worker while they wait for driver
// confirmations, so Workers bounds how many channels can start or stop at
// the same time.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
	logger log.Logger
}

// NewPool starts a pool. Non-positive sizes fall back to the defaults.
func NewPool(cfg PoolConfig, logger log.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	p := &Pool{
		tasks:  make(chan func(), cfg.QueueSize),
		logger: log.OrNoop(logger),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Post queues fn without blocking. It returns false if the pool is closed
// or the queue is full.
func (p *Pool) Post(fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- fn:
		return true
	default:
		p.logger.Warn("dispatch queue full", log.Int("capacity", cap(p.tasks)))
		return false
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Close stops accepting work and waits up to timeout for queued and running
// tasks to finish. Returns ErrCloseTimeout if they do not.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		p.logger.Warn("dispatch close timeout, abandoning workers",
			log.Duration("timeout", timeout),
		)
		return ErrCloseTimeout
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for fn := range p.tasks {
		p.run(fn)
	}
}

// run executes fn, containing any panic to the task.
func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch task panicked", log.Err(fmt.Errorf("%v", r)))
		}
	}()
	fn()
}

var _ Dispatcher = (*Pool)(nil)
