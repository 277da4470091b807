package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/varalys/fimwatch/internal/types"
)

// Baseline is an immutable snapshot of path -> digest for one root. It is
// shared by pointer between goroutines; nothing mutates it after creation.
type Baseline struct {
	id        string
	root      string
	createdAt time.Time
	entries   map[string]types.BaselineEntry
	skipped   int
}

func newBaseline(id, root string, createdAt time.Time, entries map[string]types.BaselineEntry, skipped int) *Baseline {
	return &Baseline{id: id, root: root, createdAt: createdAt, entries: entries, skipped: skipped}
}

// FromEntries builds an in-memory baseline. It is meant for tests and for
// callers that obtain entries elsewhere; the store never persists it.
func FromEntries(root string, createdAt time.Time, entries []types.BaselineEntry) *Baseline {
	m := make(map[string]types.BaselineEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return newBaseline(FormatID(createdAt), root, createdAt, m, 0)
}

// ID is the snapshot identifier (the UTC creation timestamp).
func (b *Baseline) ID() string { return b.id }

// Root is the absolute directory the baseline covers.
func (b *Baseline) Root() string { return b.root }

func (b *Baseline) CreatedAt() time.Time { return b.createdAt }

func (b *Baseline) Len() int { return len(b.entries) }

// Skipped counts files the hasher could not read while building.
func (b *Baseline) Skipped() int { return b.skipped }

// Lookup returns the entry for a slash-separated path relative to Root.
func (b *Baseline) Lookup(path string) (types.BaselineEntry, bool) {
	e, ok := b.entries[path]
	return e, ok
}

// Paths returns all recorded paths in sorted order.
func (b *Baseline) Paths() []string {
	out := make([]string, 0, len(b.entries))
	for p := range b.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Entries returns a copy of the entries sorted by path.
func (b *Baseline) Entries() []types.BaselineEntry {
	out := make([]types.BaselineEntry, 0, len(b.entries))
	for _, p := range b.Paths() {
		out = append(out, b.entries[p])
	}
	return out
}

// checksum is a digest over "path\tdigest\n" lines in path order. It lets
// Load detect truncated or hand-edited snapshots.
func checksum(entries map[string]types.BaselineEntry) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{'\t'})
		h.Write([]byte(entries[p].Digest))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
