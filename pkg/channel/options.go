package channel

import (
	"fmt"
	"time"

	"github.com/bft-labs/devchannel/pkg/dispatch"
	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// DefaultTimeout bounds the first phase of every driver confirmation wait.
const DefaultTimeout = 300 * time.Second

// Op identifies the wait a TimeoutEvent refers to.
type Op uint8

const (
	OpStart Op = iota + 1
	OpStop
	OpFinalize
)

func (o Op) String() string {
	switch o {
	case OpStart:
		return "start"
	case OpStop:
		return "stop"
	case OpFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// TimeoutEvent is emitted when a driver confirmation is overdue. The channel
// keeps waiting after emitting it.
type TimeoutEvent struct {
	ChannelID string
	Kind      Kind
	Op        Op
	Waited    time.Duration
}

type options struct {
	owner        Owner
	dispatcher   dispatch.Dispatcher
	notifier     notify.Notifier
	logger       log.Logger
	startTimeout time.Duration
	stopTimeout  time.Duration
	onTimeout    func(TimeoutEvent)
}

func defaultOptions() options {
	return options{
		dispatcher:   dispatch.Go{},
		logger:       log.NewNoopLogger(),
		startTimeout: DefaultTimeout,
		stopTimeout:  DefaultTimeout,
	}
}

// Option configures a Channel.
type Option func(*options)

// WithOwner sets the owner notified at the end of finalization.
func WithOwner(o Owner) Option {
	return func(opts *options) { opts.owner = o }
}

// WithDispatcher sets where start and stop work items run.
// Defaults to a goroutine per item.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(opts *options) {
		if d != nil {
			opts.dispatcher = d
		}
	}
}

// WithNotifier sets the receiver of semantic state notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(opts *options) { opts.notifier = n }
}

// WithLogger sets the logger. Entries carry the channel id and kind.
func WithLogger(l log.Logger) Option {
	return func(opts *options) { opts.logger = log.OrNoop(l) }
}

// WithStartTimeout bounds the first phase of the start confirmation wait.
// Zero or negative waits unbounded from the outset.
func WithStartTimeout(d time.Duration) Option {
	return func(opts *options) { opts.startTimeout = d }
}

// WithStopTimeout bounds the first phase of the stop and finalize waits.
func WithStopTimeout(d time.Duration) Option {
	return func(opts *options) { opts.stopTimeout = d }
}

// WithTimeoutHandler sets the escalation handler for overdue confirmations.
func WithTimeoutHandler(fn func(TimeoutEvent)) Option {
	return func(opts *options) { opts.onTimeout = fn }
}
