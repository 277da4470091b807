package classify

import (
	"sort"
	"time"

	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/types"
)

// Diff compares a full listing of the live tree against b. live maps every
// file present to its digest; an empty digest marks a file that exists but
// could not be read, which is never reported as modified or deleted.
// Findings are ordered by path.
func (c *Classifier) Diff(b *baseline.Baseline, live map[string]string, at time.Time) []types.Finding {
	if b == nil {
		return nil
	}
	var out []types.Finding
	for _, p := range b.Paths() {
		prev, _ := b.Lookup(p)
		cur, present := live[p]
		switch {
		case !present:
			out = append(out, c.one(types.Deleted, p, "", prev.Digest, "", at, types.SourceReconcile)...)
		case cur != "" && cur != prev.Digest:
			out = append(out, c.one(types.Modified, p, "", prev.Digest, cur, at, types.SourceReconcile)...)
		}
	}
	for p, cur := range live {
		if _, known := b.Lookup(p); !known {
			out = append(out, c.one(types.Created, p, "", "", cur, at, types.SourceReconcile)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
