package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap/zaptest"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	root string
	h    *hasher.Hasher
	b    *baseline.Baseline
	c    *Classifier
}

// newFixture writes files under a temp root and baselines them.
func newFixture(t *testing.T, contents map[string]string, opts ...Option) *fixture {
	t.Helper()
	root := t.TempDir()
	h := hasher.New(hasher.WithRetries(0, 0))
	var entries []types.BaselineEntry
	for rel, body := range contents {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		d, err := h.Sum(p)
		require.NoError(t, err)
		entries = append(entries, types.BaselineEntry{Path: rel, Digest: d, RecordedAt: t0})
	}
	n := 0
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithIDs(func() string { n++; return fmt.Sprintf("f-%d", n) }),
	}, opts...)
	return &fixture{
		root: root,
		h:    h,
		b:    baseline.FromEntries(root, t0, entries),
		c:    New(config.DefaultAlertConfig(), h, opts...),
	}
}

func (f *fixture) abs(rel string) string { return filepath.Join(f.root, filepath.FromSlash(rel)) }

func (f *fixture) write(t *testing.T, rel, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(f.abs(rel)), 0o755))
	require.NoError(t, os.WriteFile(f.abs(rel), []byte(body), 0o644))
}

func (f *fixture) digest(rel string) string {
	e, _ := f.b.Lookup(rel)
	return e.Digest
}

func ev(kind types.EventKind, path string) types.RawEvent {
	return types.RawEvent{Kind: kind, Path: path, ObservedAt: t0}
}

func TestCreated_UnknownPath(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	f.write(t, "new.txt", "fresh")

	got := f.c.Classify(ev(types.Created, f.abs("new.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
	assert.Equal(t, "new.txt", got[0].Path)
	assert.Equal(t, types.SevLow, got[0].Severity)
	assert.Equal(t, types.SourceWatch, got[0].Source)
	d, _ := f.h.Sum(f.abs("new.txt"))
	assert.Equal(t, d, got[0].CurrentDigest)
	assert.Empty(t, got[0].PreviousDigest)
	assert.Equal(t, "f-1", got[0].ID)
}

func TestCreated_KnownPathComparedLikeModify(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	assert.Empty(t, f.c.Classify(ev(types.Created, f.abs("a.txt")), f.b))

	f.write(t, "a.txt", "changed")
	got := f.c.Classify(ev(types.Created, f.abs("a.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Modified, got[0].Kind)
}

func TestModified(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})

	t.Run("metadata only", func(t *testing.T) {
		require.NoError(t, os.Chtimes(f.abs("a.txt"), t0, t0))
		require.NoError(t, os.Chmod(f.abs("a.txt"), 0o600))
		assert.Empty(t, f.c.Classify(ev(types.Modified, f.abs("a.txt")), f.b))
	})

	t.Run("content changed", func(t *testing.T) {
		f.write(t, "a.txt", "alpha!")
		got := f.c.Classify(ev(types.Modified, f.abs("a.txt")), f.b)
		require.Len(t, got, 1)
		assert.Equal(t, types.Modified, got[0].Kind)
		assert.Equal(t, types.SevMed, got[0].Severity)
		assert.Equal(t, f.digest("a.txt"), got[0].PreviousDigest)
		assert.NotEqual(t, got[0].PreviousDigest, got[0].CurrentDigest)
	})

	t.Run("vanished becomes deleted", func(t *testing.T) {
		require.NoError(t, os.Remove(f.abs("a.txt")))
		got := f.c.Classify(ev(types.Modified, f.abs("a.txt")), f.b)
		require.Len(t, got, 1)
		assert.Equal(t, types.Deleted, got[0].Kind)
	})
}

func TestModified_UnknownPathIsCreated(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	f.write(t, "b.txt", "beta")
	got := f.c.Classify(ev(types.Modified, f.abs("b.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
}

func TestDeleted(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	require.NoError(t, os.Remove(f.abs("a.txt")))
	got := f.c.Classify(ev(types.Deleted, f.abs("a.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, types.SevHigh, got[0].Severity)
	assert.Equal(t, f.digest("a.txt"), got[0].PreviousDigest)
	assert.Empty(t, got[0].CurrentDigest)

	// Not in the baseline: nothing to report.
	assert.Empty(t, f.c.Classify(ev(types.Deleted, f.abs("ghost.txt")), f.b))

	// Still present (delete + recreate): compared by content.
	assert.Empty(t, f.c.Classify(ev(types.Deleted, f.abs("b.txt")), f.b))
	f.write(t, "b.txt", "rewritten")
	got = f.c.Classify(ev(types.Deleted, f.abs("b.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Modified, got[0].Kind)
}

func TestDeleted_DirectoryReportsBaselinedFiles(t *testing.T) {
	f := newFixture(t, map[string]string{"etc/a.conf": "a", "etc/b.conf": "b", "etcetera": "c"})
	require.NoError(t, os.Remove(f.abs("etc/a.conf")))
	require.NoError(t, os.Remove(f.abs("etc/b.conf")))
	require.NoError(t, os.Remove(f.abs("etc")))

	got := f.c.Classify(ev(types.Deleted, f.abs("etc")), f.b)
	require.Len(t, got, 2)
	assert.Equal(t, "etc/a.conf", got[0].Path)
	assert.Equal(t, "etc/b.conf", got[1].Path)
	assert.Equal(t, types.Deleted, got[1].Kind)
	assert.Equal(t, types.SevHigh, got[1].Severity)
}

func TestIgnoredPaths(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	require.NoError(t, os.Mkdir(f.abs("dir"), 0o755))
	outside := filepath.Join(t.TempDir(), "x.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	assert.Empty(t, f.c.Classify(ev(types.Created, f.abs("dir")), f.b), "directories")
	assert.Empty(t, f.c.Classify(ev(types.Created, outside), f.b), "outside root")
	assert.Empty(t, f.c.Classify(ev(types.Modified, f.root), f.b), "root itself")
	assert.Empty(t, f.c.Classify(ev("chmod", f.abs("a.txt")), f.b), "unknown kind")
	assert.Empty(t, f.c.Classify(ev(types.Created, f.abs("a.txt")), nil), "nil baseline")
}

func TestRelativeEventPath(t *testing.T) {
	f := newFixture(t, map[string]string{"sub/a.txt": "alpha"})
	f.write(t, "sub/a.txt", "beta")
	got := f.c.Classify(ev(types.Modified, "sub/a.txt"), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, "sub/a.txt", got[0].Path)
}

func TestSelfReferenceExclusion(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	logFile := f.abs("FIM_Logs.log")
	snapDir := f.abs("baselines")
	c := New(config.DefaultAlertConfig(), f.h, WithExclude(logFile, snapDir))

	f.write(t, "FIM_Logs.log", "entry")
	f.write(t, "baselines/baseline_x.json", "{}")

	assert.Empty(t, c.Classify(ev(types.Modified, logFile), f.b))
	assert.Empty(t, c.Classify(ev(types.Created, f.abs("baselines/baseline_x.json")), f.b))
	assert.Empty(t, c.Classify(types.RawEvent{Kind: types.MovedFrom, Path: logFile, DestPath: snapDir + "/y", ObservedAt: t0}, f.b))

	// Other files still classify.
	f.write(t, "b.txt", "beta")
	assert.Len(t, c.Classify(ev(types.Created, f.abs("b.txt")), f.b), 1)
}

func TestSeverityComesFromConfig(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	cfg := config.DefaultAlertConfig()
	cfg.SeverityByKind = map[types.EventKind]types.Severity{types.Created: types.SevHigh}
	c := New(cfg, f.h)

	f.write(t, "b.txt", "beta")
	got := c.Classify(ev(types.Created, f.abs("b.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.SevHigh, got[0].Severity)

	require.NoError(t, os.Remove(f.abs("a.txt")))
	got = c.Classify(ev(types.Deleted, f.abs("a.txt")), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.SevMed, got[0].Severity, "unmapped kinds default to medium")
}
