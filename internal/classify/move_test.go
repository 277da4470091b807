package classify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varalys/fimwatch/internal/types"
)

func moved(kind types.EventKind, path, id string, at time.Time) types.RawEvent {
	return types.RawEvent{Kind: kind, Path: path, MoveID: id, ObservedAt: at}
}

func renameOnDisk(t *testing.T, f *fixture, from, to string) {
	t.Helper()
	require.NoError(t, os.Rename(f.abs(from), f.abs(to)))
}

func TestRename_Correlated(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	renameOnDisk(t, f, "a.txt", "b.txt")

	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b))
	assert.Equal(t, 1, f.c.Pending())

	got := f.c.Classify(moved(types.MovedTo, f.abs("b.txt"), "m1", t0.Add(10*time.Millisecond)), f.b)
	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, types.Renamed, r.Kind)
	assert.Equal(t, "a.txt", r.OldPath)
	assert.Equal(t, "b.txt", r.Path)
	assert.Equal(t, f.digest("a.txt"), r.PreviousDigest)
	assert.Equal(t, f.digest("a.txt"), r.CurrentDigest)
	assert.Equal(t, types.SevMed, r.Severity)
	assert.Equal(t, 0, f.c.Pending())

	// Nothing left to degrade.
	assert.Empty(t, f.c.Expire(t0.Add(time.Hour)))
}

func TestRename_ToArrivesFirst(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	renameOnDisk(t, f, "a.txt", "b.txt")

	assert.Empty(t, f.c.Classify(moved(types.MovedTo, f.abs("b.txt"), "m1", t0), f.b))
	got := f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, "a.txt", got[0].OldPath)
	assert.Equal(t, "b.txt", got[0].Path)
}

func TestRename_AlreadyCorrelated(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	renameOnDisk(t, f, "a.txt", "b.txt")

	got := f.c.Classify(types.RawEvent{Kind: types.MovedFrom, Path: f.abs("a.txt"), DestPath: f.abs("b.txt"), ObservedAt: t0}, f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Renamed, got[0].Kind)
	assert.Equal(t, 0, f.c.Pending())
}

func TestRename_OutOfTree(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	elsewhere := t.TempDir() + "/a.txt"
	require.NoError(t, os.Rename(f.abs("a.txt"), elsewhere))

	got := f.c.Classify(types.RawEvent{Kind: types.MovedFrom, Path: f.abs("a.txt"), DestPath: elsewhere, ObservedAt: t0}, f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)

	require.NoError(t, os.Rename(elsewhere, f.abs("c.txt")))
	got = f.c.Classify(types.RawEvent{Kind: types.MovedFrom, Path: elsewhere, DestPath: f.abs("c.txt"), ObservedAt: t0}, f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
	assert.Equal(t, "c.txt", got[0].Path)
}

func TestLoneMovedFrom_DegradesToDeleted(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	require.NoError(t, os.Remove(f.abs("a.txt")))

	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b))
	assert.Empty(t, f.c.Expire(t0.Add(DefaultWindow-time.Millisecond)), "still inside the window")

	got := f.c.Expire(t0.Add(DefaultWindow))
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, "a.txt", got[0].Path)
	assert.Equal(t, types.SourceMoveTimeout, got[0].Source)
	assert.Equal(t, t0, got[0].ObservedAt)
	assert.Equal(t, 0, f.c.Pending())
}

func TestLoneMovedTo_DegradesToCreated(t *testing.T) {
	f := newFixture(t, nil)
	f.write(t, "in.txt", "arrived")

	assert.Empty(t, f.c.Classify(moved(types.MovedTo, f.abs("in.txt"), "m9", t0), f.b))
	got := f.c.Expire(t0.Add(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
	assert.NotEmpty(t, got[0].CurrentDigest)
}

func TestMoveWithoutID_IsIndependent(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	got := f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "", t0), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, 0, f.c.Pending())
}

func TestFlush(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b)
	f.c.Classify(moved(types.MovedFrom, f.abs("b.txt"), "m2", t0), f.b)

	got := f.c.Flush()
	require.Len(t, got, 2)
	assert.Equal(t, "a.txt", got[0].Path, "degraded in arrival order")
	assert.Equal(t, "b.txt", got[1].Path)
	assert.Equal(t, 0, f.c.Pending())
}

func TestBufferFull_DegradesOldest(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"}, WithMaxPending(2))

	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b))
	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("b.txt"), "m2", t0), f.b))
	got := f.c.Classify(moved(types.MovedFrom, f.abs("c.txt"), "m3", t0), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, "a.txt", got[0].Path)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, 2, f.c.Pending())
}

func TestCustomWindow(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"}, WithWindow(2*time.Second))
	assert.Equal(t, 2*time.Second, f.c.Window())
	f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b)
	assert.Empty(t, f.c.Expire(t0.Add(time.Second)))
	assert.Len(t, f.c.Expire(t0.Add(2*time.Second)), 1)
}

func TestRename_PartnerAfterWindowDegrades(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	renameOnDisk(t, f, "a.txt", "b.txt")

	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b))
	got := f.c.Classify(moved(types.MovedTo, f.abs("b.txt"), "m1", t0.Add(5*time.Second)), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, "a.txt", got[0].Path)
	assert.Equal(t, types.SourceMoveTimeout, got[0].Source)
	assert.Equal(t, 1, f.c.Pending(), "the late half waits for its own window")

	got = f.c.Expire(t0.Add(6 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
	assert.Equal(t, "b.txt", got[0].Path)
}

func TestRename_WindowBoundaryDoesNotPair(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	renameOnDisk(t, f, "a.txt", "b.txt")

	f.c.Classify(moved(types.MovedTo, f.abs("b.txt"), "m1", t0.Add(DefaultWindow)), f.b)
	got := f.c.Classify(moved(types.MovedFrom, f.abs("a.txt"), "m1", t0), f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Created, got[0].Kind)
	assert.Equal(t, "b.txt", got[0].Path)
}

func TestDirectoryMovedOut_ReportsContents(t *testing.T) {
	f := newFixture(t, map[string]string{"sub/a.txt": "a", "sub/deep/b.txt": "b", "subway.txt": "c"})
	require.NoError(t, os.Rename(f.abs("sub"), filepath.Join(t.TempDir(), "sub")))

	assert.Empty(t, f.c.Classify(moved(types.MovedFrom, f.abs("sub"), "m1", t0), f.b))
	got := f.c.Flush()
	require.Len(t, got, 2)
	assert.Equal(t, "sub/a.txt", got[0].Path)
	assert.Equal(t, "sub/deep/b.txt", got[1].Path)
	for _, fd := range got {
		assert.Equal(t, types.Deleted, fd.Kind)
		assert.Equal(t, f.digest(fd.Path), fd.PreviousDigest)
	}
}

func TestDirectoryRenamedInTree_ReportsOldContents(t *testing.T) {
	f := newFixture(t, map[string]string{"sub/a.txt": "a"})
	require.NoError(t, os.Rename(f.abs("sub"), f.abs("moved")))

	got := f.c.Classify(types.RawEvent{Kind: types.MovedFrom, Path: f.abs("sub"), DestPath: f.abs("moved"), ObservedAt: t0}, f.b)
	require.Len(t, got, 1)
	assert.Equal(t, types.Deleted, got[0].Kind)
	assert.Equal(t, "sub/a.txt", got[0].Path)
}
