// Package throttle limits how many alerts one path may raise per window.
//
// The gate is a fixed-window counter keyed by path. A path's window opens on
// its first event and resets on the first event at or after windowStart +
// window, so a burst straddling a boundary can admit up to 2*max alerts.
// State is split across shards chosen by an xxhash of the path; each shard
// has its own mutex and there is no global lock.
package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/varalys/fimwatch/internal/config"
)

// DefaultShards is the number of independently locked shards.
const DefaultShards = 32

// ErrNonMonotonic is returned when Admit is called with a time earlier than
// one already seen for the same path.
var ErrNonMonotonic = errors.New("throttle: non-monotonic time")

type entry struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Gate is safe for concurrent use.
type Gate struct {
	window time.Duration
	max    int
	shards []shard
}

// Option configures a Gate.
type Option func(*Gate)

// WithShards sets the shard count; values below 1 are ignored.
func WithShards(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.shards = make([]shard, n)
		}
	}
}

// New returns a gate admitting at most max events per path per window.
func New(window time.Duration, max int, opts ...Option) (*Gate, error) {
	if window <= 0 {
		return nil, fmt.Errorf("throttle window must be positive, got %s", window)
	}
	if max <= 0 {
		return nil, fmt.Errorf("throttle max must be positive, got %d", max)
	}
	g := &Gate{window: window, max: max, shards: make([]shard, DefaultShards)}
	for _, o := range opts {
		o(g)
	}
	for i := range g.shards {
		g.shards[i].entries = make(map[string]*entry)
	}
	return g, nil
}

// FromConfig builds a gate from the alert config.
func FromConfig(cfg config.AlertConfig, opts ...Option) (*Gate, error) {
	return New(cfg.Window(), cfg.MaxAlertsPerWindow, opts...)
}

func (g *Gate) Window() time.Duration { return g.window }
func (g *Gate) Max() int              { return g.max }

func (g *Gate) shardFor(path string) *shard {
	return &g.shards[xxhash.Sum64String(path)%uint64(len(g.shards))]
}

// Admit records an event for path at now and reports whether it may alert.
func (g *Gate) Admit(path string, now time.Time) (bool, error) {
	s := g.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[path]
	if !ok {
		s.entries[path] = &entry{windowStart: now, count: 1, lastSeen: now}
		return true, nil
	}
	if now.Before(e.lastSeen) {
		return false, fmt.Errorf("%w: %s before %s for %s", ErrNonMonotonic,
			now.Format(time.RFC3339Nano), e.lastSeen.Format(time.RFC3339Nano), path)
	}
	e.lastSeen = now
	if now.Sub(e.windowStart) >= g.window {
		e.windowStart = now
		e.count = 1
		return true, nil
	}
	e.count++
	return e.count <= g.max, nil
}

// Sweep evicts paths whose window has expired at now and returns how many
// were removed. An evicted path behaves exactly as if it had expired lazily.
func (g *Gate) Sweep(now time.Time) int {
	removed := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for p, e := range s.entries {
			if now.Sub(e.windowStart) >= g.window {
				delete(s.entries, p)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked paths.
func (g *Gate) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
