package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/classify"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/metrics"
	"github.com/varalys/fimwatch/internal/throttle"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap/zaptest"
)

func h(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type recorder struct {
	mu   sync.Mutex
	msgs []alert.Message
}

func (r *recorder) Notify(_ context.Context, m alert.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recorder) all() []alert.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Message(nil), r.msgs...)
}

type harness struct {
	root     string
	snapDir  string
	store    *baseline.Store
	notifier *recorder
	audit    *audit.AuditLog
	c        *Coordinator
}

type harnessOpt func(*Config, *Deps)

func withClock(fn func() time.Time) harnessOpt {
	return func(_ *Config, d *Deps) { d.Clock = fn }
}

func newHarness(t *testing.T, files map[string]string, opts ...harnessOpt) *harness {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		write(t, root, rel, body)
	}
	return newHarnessAt(t, root, t.TempDir(), opts...)
}

func newHarnessAt(t *testing.T, root, snapDir string, opts ...harnessOpt) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ac := config.DefaultAlertConfig()
	ac.ThrottleWindowSeconds = 60
	ac.MaxAlertsPerWindow = 3

	hs := hasher.New(hasher.WithRetries(0, 0))
	store := baseline.NewStore(snapDir, hs, baseline.WithLogger(logger))
	gate, err := throttle.FromConfig(ac)
	require.NoError(t, err)
	rec := &recorder{}
	al := audit.NewAuditLog(filepath.Join(t.TempDir(), audit.DefaultFile))

	cfg := Config{Root: root, Alert: ac, Workers: 4, TickInterval: 10 * time.Millisecond}
	deps := Deps{
		Store:      store,
		Classifier: classify.New(ac, hs, classify.WithLogger(logger), classify.WithWindow(2*time.Second)),
		Gate:       gate,
		Dispatcher: alert.NewDispatcher(rec, ac.Recipients, alert.WithLogger(logger)),
		Audit:      al,
		Metrics:    metrics.New(),
		Logger:     logger,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}
	c, err := New(cfg, deps)
	require.NoError(t, err)
	return &harness{root: root, snapDir: snapDir, store: store, notifier: rec, audit: al, c: c}
}

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func (hn *harness) abs(rel string) string { return filepath.Join(hn.root, filepath.FromSlash(rel)) }

// run starts Run, feeds evs, closes the channel and waits for the drain.
func (hn *harness) run(t *testing.T, evs ...types.RawEvent) error {
	t.Helper()
	ch := make(chan types.RawEvent, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return hn.c.Run(context.Background(), ch)
}

func modified(path string) types.RawEvent {
	return types.RawEvent{Kind: types.Modified, Path: path, ObservedAt: time.Now()}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
	_, err = New(Config{Root: "/tmp"}, Deps{})
	assert.Error(t, err)
}

func TestStart_CreatesThenReusesBaseline(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello", "b.txt": "world"})
	assert.Equal(t, Idle, hn.c.State())
	require.NoError(t, hn.c.Start(context.Background()))
	assert.Equal(t, Watching, hn.c.State())

	b := hn.c.Baseline()
	require.NotNil(t, b)
	assert.Equal(t, 2, b.Len())
	a, _ := b.Lookup("a.txt")
	bb, _ := b.Lookup("b.txt")
	assert.Equal(t, h("hello"), a.Digest)
	assert.NotEqual(t, a.Digest, bb.Digest)

	again := newHarnessAt(t, hn.root, hn.snapDir)
	require.NoError(t, again.c.Start(context.Background()))
	assert.Equal(t, b.ID(), again.c.Baseline().ID(), "existing snapshot is reused")

	rebuilt := newHarnessAt(t, hn.root, hn.snapDir, func(c *Config, _ *Deps) { c.ForceRebuild = true })
	require.NoError(t, rebuilt.c.Start(context.Background()))
	assert.NotEqual(t, b.ID(), rebuilt.c.Baseline().ID())
}

func TestStart_CorruptSnapshotRebuilds(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello"})
	require.NoError(t, hn.c.Start(context.Background()))
	first := hn.c.Baseline().ID()
	require.NoError(t, os.WriteFile(hn.store.Path(first), []byte("{not json"), 0o644))

	again := newHarnessAt(t, hn.root, hn.snapDir)
	require.NoError(t, again.c.Start(context.Background()))
	assert.NotEqual(t, first, again.c.Baseline().ID())
	assert.Equal(t, 1, again.c.Baseline().Len())
}

func TestStart_RootMissing(t *testing.T) {
	hn := newHarnessAt(t, filepath.Join(t.TempDir(), "missing"), t.TempDir())
	require.Error(t, hn.c.Start(context.Background()))
	assert.Equal(t, Idle, hn.c.State())
}

func TestEndToEnd_ModifiedAlert(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello", "b.txt": "world"})
	require.NoError(t, hn.c.Start(context.Background()))

	write(t, hn.root, "a.txt", "hello!")
	require.NoError(t, hn.run(t, modified(hn.abs("a.txt"))))

	msgs := hn.notifier.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Subject, "Modified")
	assert.Contains(t, msgs[0].Subject, "a.txt")
	f := msgs[0].Finding
	assert.Equal(t, types.Modified, f.Kind)
	assert.Equal(t, "a.txt", f.Path)
	assert.Equal(t, h("hello"), f.PreviousDigest)
	assert.Equal(t, h("hello!"), f.CurrentDigest)
	assert.NotEmpty(t, f.User)
	assert.Equal(t, Stopped, hn.c.State())
}

func TestFindingsCarryUser(t *testing.T) {
	hn := newHarness(t, nil, func(c *Config, _ *Deps) { c.User = "fimsvc" })
	require.NoError(t, hn.c.Start(context.Background()))

	o := hn.c.Inject(context.Background(), types.Finding{Kind: types.Created, Path: "x.txt"})
	require.NoError(t, o.Err)
	assert.Equal(t, "fimsvc", o.Finding.User)
	msgs := hn.notifier.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Body, "User: fimsvc")

	recs, err := hn.audit.LoadHistory()
	require.NoError(t, err)
	found := audit.Findings(recs)
	require.Len(t, found, 1)
	assert.Equal(t, "fimsvc", found[0].Finding.User)
}

func TestEndToEnd_ThrottleFourEventsThreeDispatches(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello"})
	require.NoError(t, hn.c.Start(context.Background()))

	var outcomes []Outcome
	var mu sync.Mutex
	hn.c.Subscribe(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	write(t, hn.root, "a.txt", "changed")
	ev := modified(hn.abs("a.txt"))
	require.NoError(t, hn.run(t, ev, ev, ev, ev))

	assert.Len(t, hn.notifier.all(), 3)
	require.Len(t, outcomes, 4)
	assert.False(t, outcomes[3].Admitted, "fourth finding is throttled")
	assert.False(t, outcomes[3].Delivered)

	records, err := hn.audit.LoadHistory()
	require.NoError(t, err)
	assert.Len(t, audit.Findings(records), 4, "throttled findings are still logged")
}

func TestRun_RenameAndLoneMove(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello", "c.txt": "gone"})
	require.NoError(t, hn.c.Start(context.Background()))

	require.NoError(t, os.Rename(hn.abs("a.txt"), hn.abs("b.txt")))
	require.NoError(t, os.Remove(hn.abs("c.txt")))
	now := time.Now()
	require.NoError(t, hn.run(t,
		types.RawEvent{Kind: types.MovedFrom, Path: hn.abs("a.txt"), MoveID: "1", ObservedAt: now},
		types.RawEvent{Kind: types.MovedTo, Path: hn.abs("b.txt"), MoveID: "1", ObservedAt: now},
		types.RawEvent{Kind: types.MovedFrom, Path: hn.abs("c.txt"), MoveID: "2", ObservedAt: now},
	))

	byKind := map[types.EventKind]types.Finding{}
	for _, m := range hn.notifier.all() {
		byKind[m.Finding.Kind] = m.Finding
	}
	require.Len(t, byKind, 2)
	assert.Equal(t, "a.txt", byKind[types.Renamed].OldPath)
	assert.Equal(t, "b.txt", byKind[types.Renamed].Path)
	assert.Equal(t, "c.txt", byKind[types.Deleted].Path)
	assert.Equal(t, types.SourceMoveTimeout, byKind[types.Deleted].Source)
}

func TestReconcile_OneShot(t *testing.T) {
	hn := newHarness(t, map[string]string{"keep.txt": "k", "edit.txt": "e", "gone.txt": "g"})
	require.NoError(t, hn.c.Start(context.Background()))

	write(t, hn.root, "edit.txt", "e2")
	write(t, hn.root, "new.txt", "n")
	require.NoError(t, os.Remove(hn.abs("gone.txt")))

	res, err := hn.c.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	require.Len(t, res.Findings, 3)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, types.Modified, res.Findings[0].Kind)
	assert.Equal(t, types.Deleted, res.Findings[1].Kind)
	assert.Equal(t, types.Created, res.Findings[2].Kind)
	assert.Len(t, hn.notifier.all(), 3)
	assert.Equal(t, Watching, hn.c.State())
}

func TestReconcile_Cancelled(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "x"})
	require.NoError(t, hn.c.Start(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hn.c.Reconcile(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Watching, hn.c.State())
	assert.Empty(t, hn.notifier.all())
}

func TestReconcile_NoBaseline(t *testing.T) {
	hn := newHarness(t, nil)
	_, err := hn.c.Reconcile(context.Background())
	require.ErrorIs(t, err, ErrNoBaseline)
}

func TestRebuild_SwapsAfterCommit(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "v1"})
	require.NoError(t, hn.c.Start(context.Background()))
	old := hn.c.Baseline()

	write(t, hn.root, "a.txt", "v2")
	require.NoError(t, hn.c.Rebuild(context.Background()))
	nb := hn.c.Baseline()
	assert.NotEqual(t, old.ID(), nb.ID())
	e, _ := nb.Lookup("a.txt")
	assert.Equal(t, h("v2"), e.Digest)
	// The previous snapshot is untouched.
	prev, _ := old.Lookup("a.txt")
	assert.Equal(t, h("v1"), prev.Digest)

	list, err := hn.store.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, hn.c.Rebuild(ctx))
	assert.Equal(t, nb.ID(), hn.c.Baseline().ID(), "failed rebuild keeps the committed baseline")
	assert.Equal(t, Watching, hn.c.State())
}

func TestInject(t *testing.T) {
	hn := newHarness(t, nil)
	require.NoError(t, hn.c.Start(context.Background()))

	f := types.Finding{Kind: types.Modified, Path: "/etc/passwd", PreviousDigest: "old", CurrentDigest: "new"}
	var delivered int
	for i := 0; i < 4; i++ {
		o := hn.c.Inject(context.Background(), f)
		require.NoError(t, o.Err)
		if o.Delivered {
			delivered++
		}
	}
	assert.Equal(t, 3, delivered)
	msgs := hn.notifier.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.SourceSynthetic, msgs[0].Finding.Source)
	assert.Equal(t, types.SevMed, msgs[0].Finding.Severity)
	assert.NotEmpty(t, msgs[0].Finding.ID)
}

func TestNonMonotonicClockIsFatal(t *testing.T) {
	var mu sync.Mutex
	at := time.Now()
	backwards := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at = at.Add(-time.Second)
		return at
	}
	hn := newHarness(t, map[string]string{"a.txt": "hello"}, withClock(backwards))
	require.NoError(t, hn.c.Start(context.Background()))
	write(t, hn.root, "a.txt", "changed")

	ev := modified(hn.abs("a.txt"))
	events := make(chan types.RawEvent, 2)
	events <- ev
	events <- ev
	err := hn.c.Run(context.Background(), events)
	require.ErrorIs(t, err, throttle.ErrNonMonotonic)
	assert.Equal(t, Stopped, hn.c.State())
}

func TestStopAndTriggerReconcile(t *testing.T) {
	hn := newHarness(t, map[string]string{"a.txt": "hello"})
	require.NoError(t, hn.c.Start(context.Background()))
	assert.False(t, hn.c.TriggerReconcile(), "not running yet")

	seen := make(chan Outcome, 4)
	hn.c.Subscribe(func(o Outcome) { seen <- o })

	events := make(chan types.RawEvent)
	runErr := make(chan error, 1)
	go func() { runErr <- hn.c.Run(context.Background(), events) }()

	write(t, hn.root, "a.txt", "drift")
	require.Eventually(t, hn.c.TriggerReconcile, time.Second, 5*time.Millisecond)

	select {
	case o := <-seen:
		assert.Equal(t, types.SourceReconcile, o.Finding.Source)
		assert.Equal(t, "a.txt", o.Finding.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile outcome not observed")
	}

	require.NoError(t, hn.c.Stop())
	require.NoError(t, <-runErr)
	assert.Equal(t, Stopped, hn.c.State())

	o := hn.c.Inject(context.Background(), types.Finding{Kind: types.Created, Path: "x"})
	assert.ErrorIs(t, o.Err, ErrStopped)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconciling", Reconciling.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.Len(t, StateNames(), 5)
}
