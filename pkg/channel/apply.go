package channel

import (
	"sync"

	"github.com/bft-labs/devchannel/pkg/broadcast"
	"github.com/bft-labs/devchannel/pkg/driver"
	"github.com/bft-labs/devchannel/pkg/log"
)

// applyGate counts driver apply calls that have not yet called back.
type applyGate struct {
	mu      sync.Mutex
	pending int
	// idle is closed while pending is zero.
	idle chan struct{}
}

func (g *applyGate) init() {
	g.idle = make(chan struct{})
	close(g.idle)
}

// ApplySettings issues adj.ApplySettings with h as the completion handler.
// A nil h means the channel itself. Custom handlers must forward to the
// channel's Finished, otherwise the apply never balances.
//
// If the adjuster rejects the call, h is completed once with the error's code
// and the error is returned.
func (c *Channel) ApplySettings(adj driver.Adjuster, h driver.CompletionHandler) error {
	if adj == nil {
		return ErrNoAdjuster
	}
	if h == nil {
		h = c
	}

	g := &c.gate
	g.mu.Lock()
	if g.pending == 0 {
		g.idle = make(chan struct{})
	}
	g.pending++
	n := g.pending
	g.mu.Unlock()

	c.logger.Debug("apply issued", log.Int("pending", n))
	c.ref()

	if err := adj.ApplySettings(h); err != nil {
		c.logger.Error("apply rejected by driver", log.Err(err))
		h.Finished("", driver.CodeOf(err))
		return err
	}
	return nil
}

// Finished completes one apply. Implements driver.CompletionHandler.
// A completion with nothing outstanding is logged and ignored.
func (c *Channel) Finished(src driver.Source, code driver.Code) {
	c.hooks.ApplyCompleted(c, src, code)

	g := &c.gate
	g.mu.Lock()
	if g.pending == 0 {
		g.mu.Unlock()
		c.logger.Error("apply completion without outstanding apply ignored",
			log.String("source", string(src)),
			log.String("code", code.String()))
		return
	}
	g.pending--
	n := g.pending
	if n == 0 {
		close(g.idle)
	}
	g.mu.Unlock()

	c.logger.Debug("apply finished", log.Int("pending", n))
	c.unref()
}

// WaitForApply blocks until every outstanding apply has completed.
func (c *Channel) WaitForApply() {
	c.gate.mu.Lock()
	idle := c.gate.idle
	c.gate.mu.Unlock()
	<-idle
}

// ApplyCount returns the number of outstanding applies.
func (c *Channel) ApplyCount() int {
	c.gate.mu.Lock()
	defer c.gate.mu.Unlock()
	return c.gate.pending
}

// ApplyChanges applies the channel's settings as part of bulk operation b.
// Channels whose hooks carry no adjuster return ErrNoAdjuster and leave b
// untouched.
func (c *Channel) ApplyChanges(b *broadcast.Broadcaster) error {
	src, ok := c.hooks.(SettingsSource)
	if !ok {
		return ErrNoAdjuster
	}
	adj := src.Adjuster()
	if adj == nil {
		return ErrNoAdjuster
	}
	return c.ApplySettings(adj, b.Wrap(c))
}
