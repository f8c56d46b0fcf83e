package notify

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/bft-labs/devchannel/pkg/log"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("notify: cbor encoder options: " + err.Error())
	}
}

// Journal appends notifications to a file as a CBOR sequence.
// It is safe for concurrent use. Write errors never reach the reporting
// channel; the first of each run of failures is logged.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	logger log.Logger
	closed bool

	// failing is set once a write error is logged and cleared by the next
	// successful write.
	failing bool
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithJournalLogger sets the logger that reports write failures.
func WithJournalLogger(l log.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// OpenJournal opens path for appending, creating it with mode 0644.
func OpenJournal(path string, opts ...JournalOption) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	j := &Journal{file: f, enc: encMode.NewEncoder(f), logger: log.NewNoopLogger()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Notify appends ev. Calls after Close are ignored.
func (j *Journal) Notify(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if err := j.enc.Encode(ev); err != nil {
		if !j.failing {
			j.failing = true
			j.logger.Error("journal write failed",
				log.String("path", j.file.Name()),
				log.String("channel", ev.ChannelID),
				log.Err(err))
		}
		return
	}
	j.failing = false
}

// Close closes the journal file. It is safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// ReadJournal decodes every event in r.
// A truncated trailing record is reported with io.ErrUnexpectedEOF along
// with the events decoded before it.
func ReadJournal(r io.Reader) ([]Event, error) {
	dec := cbor.NewDecoder(r)
	var events []Event
	for {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return events, err
		}
		events = append(events, ev)
	}
}

var _ Notifier = (*Journal)(nil)
