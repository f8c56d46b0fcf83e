package state

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/devchannel/pkg/log"
	"github.com/bft-labs/devchannel/pkg/notify"
)

// Recorder is a notify.Notifier that keeps the last event of every channel
// and saves snapshots from Run. Notify never blocks on the repository.
type Recorder struct {
	deviceID string
	repo     Repository
	logger   log.Logger

	mu       sync.Mutex
	channels map[string]ChannelState

	dirty chan struct{}
}

// NewRecorder creates a Recorder for deviceID saving to repo.
func NewRecorder(deviceID string, repo Repository, logger log.Logger) *Recorder {
	return &Recorder{
		deviceID: deviceID,
		repo:     repo,
		logger:   log.OrNoop(logger),
		channels: make(map[string]ChannelState),
		dirty:    make(chan struct{}, 1),
	}
}

// Notify implements notify.Notifier.
func (r *Recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	r.channels[ev.ChannelID] = fromEvent(ev)
	r.mu.Unlock()

	select {
	case r.dirty <- struct{}{}:
	default:
	}
}

// Snapshot returns the current state without saving it.
func (r *Recorder) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		DeviceID: r.deviceID,
		Channels: sorted(r.channels),
		SavedAt:  time.Now(),
	}
}

// Run saves a snapshot after each burst of notifications until ctx is done,
// then saves a final snapshot marked clean.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s := r.Snapshot()
			s.Clean = true
			r.save(context.Background(), s)
			return
		case <-r.dirty:
			r.save(ctx, r.Snapshot())
		}
	}
}

func (r *Recorder) save(ctx context.Context, s State) {
	if err := r.repo.Save(ctx, s); err != nil && ctx.Err() == nil {
		r.logger.Warn("state snapshot not saved", log.Err(err))
	}
}

var _ notify.Notifier = (*Recorder)(nil)
