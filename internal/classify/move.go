package classify

import (
	"sort"
	"time"

	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

type moveState int

const (
	awaitingTo   moveState = iota // saw MovedFrom
	awaitingFrom                  // saw MovedTo
)

// move is one half of a rename waiting for its partner.
type move struct {
	id    string
	state moveState
	path  string
	b     *baseline.Baseline
	at    time.Time
	seq   uint64
}

func (c *Classifier) correlate(ev types.RawEvent, b *baseline.Baseline, at time.Time) []types.Finding {
	want := awaitingTo
	if ev.Kind == types.MovedFrom {
		want = awaitingFrom
	}

	c.mu.Lock()
	var evicted []*move
	if m, ok := c.pending[ev.MoveID]; ok {
		delete(c.pending, ev.MoveID)
		if m.state == want && c.within(m.at, at) {
			c.mu.Unlock()
			from, to := m.path, ev.Path
			if ev.Kind == types.MovedFrom {
				from, to = ev.Path, m.path
			}
			return c.rename(from, to, b, at, types.SourceWatch)
		}
		// A repeated half, or a partner that arrived after the window,
		// can no longer pair with the buffered one.
		evicted = append(evicted, m)
	}
	for len(c.pending) >= c.maxPending {
		evicted = append(evicted, c.popOldestLocked())
	}
	state := awaitingFrom
	if ev.Kind == types.MovedFrom {
		state = awaitingTo
	}
	c.seq++
	c.pending[ev.MoveID] = &move{id: ev.MoveID, state: state, path: ev.Path, b: b, at: at, seq: c.seq}
	c.mu.Unlock()

	if len(evicted) > 0 {
		c.logger.Warn("Move correlation buffer full; degrading oldest moves",
			zap.Int("evicted", len(evicted)), zap.Int("max_pending", c.maxPending))
	}
	return c.degrade(evicted)
}

// within reports whether two halves observed at a and b are less than one
// window apart, in either order.
func (c *Classifier) within(a, b time.Time) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d < c.window
}

func (c *Classifier) popOldestLocked() *move {
	var oldest *move
	for _, m := range c.pending {
		if oldest == nil || m.seq < oldest.seq {
			oldest = m
		}
	}
	delete(c.pending, oldest.id)
	return oldest
}

// Expire degrades every pending half older than the window at now: an
// unmatched MovedFrom becomes Deleted, an unmatched MovedTo becomes Created.
func (c *Classifier) Expire(now time.Time) []types.Finding {
	c.mu.Lock()
	var expired []*move
	for id, m := range c.pending {
		if now.Sub(m.at) >= c.window {
			expired = append(expired, m)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()
	return c.degrade(expired)
}

// Flush degrades everything pending. It is used on shutdown.
func (c *Classifier) Flush() []types.Finding {
	c.mu.Lock()
	all := make([]*move, 0, len(c.pending))
	for _, m := range c.pending {
		all = append(all, m)
	}
	c.pending = make(map[string]*move)
	c.mu.Unlock()
	return c.degrade(all)
}

// Pending returns the number of unmatched move halves.
func (c *Classifier) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Classifier) degrade(moves []*move) []types.Finding {
	if len(moves) == 0 {
		return nil
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].seq < moves[j].seq })
	var out []types.Finding
	for _, m := range moves {
		kind := types.MovedTo
		if m.state == awaitingTo {
			kind = types.MovedFrom
		}
		out = append(out, c.lone(kind, m.path, m.b, m.at, types.SourceMoveTimeout)...)
	}
	return out
}
