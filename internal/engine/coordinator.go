package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/classify"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/metrics"
	"github.com/varalys/fimwatch/internal/throttle"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrShutdownTimeout is returned when workers do not drain in time.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
	ErrNoBaseline      = errors.New("no committed baseline")
	ErrStopped         = errors.New("coordinator stopped")
	ErrBusy            = errors.New("coordinator busy")
)

// Config controls the monitor.
type Config struct {
	Root         string
	ForceRebuild bool
	Alert        config.AlertConfig

	// Workers is the number of path-affine workers; QueueSize bounds each
	// worker's queue.
	Workers   int
	QueueSize int

	// TickInterval drives move expiry and throttle sweeps.
	TickInterval time.Duration
	// ReconcileInterval enables periodic reconciliation when > 0.
	ReconcileInterval time.Duration
	ShutdownTimeout   time.Duration

	// User is stamped on findings and log lines. Defaults to the account
	// running the process.
	User string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
		if c.Workers > 16 {
			c.Workers = 16
		}
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.User == "" {
		c.User = currentUser()
	}
	return c
}

// Deps are the collaborators the coordinator drives. Audit and Metrics are
// optional.
type Deps struct {
	Store      *baseline.Store
	Classifier *classify.Classifier
	Gate       *throttle.Gate
	Dispatcher *alert.Dispatcher
	Audit      *audit.AuditLog
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Outcome is what happened to one finding.
type Outcome struct {
	Finding   types.Finding
	Admitted  bool
	Delivered bool
	Err       error
}

// Coordinator owns the lifecycle of one monitored root: it resolves a
// baseline, routes watch events to path-affine workers, and pushes findings
// through the throttle to the dispatcher.
type Coordinator struct {
	cfg     Config
	root    string
	store   *baseline.Store
	cls     *classify.Classifier
	gate    *throttle.Gate
	disp    *alert.Dispatcher
	audit   *audit.AuditLog
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	state atomic.Int32

	mu       sync.RWMutex
	baseline *baseline.Baseline

	subMu sync.RWMutex
	subs  []func(Outcome)

	// opMu serialises Rebuild and Reconcile.
	opMu sync.Mutex
	// admitMu stripes clock reads and Admit calls by path so the gate never
	// sees time go backwards for a path.
	admitMu [64]sync.Mutex

	qmu    sync.RWMutex
	queues []chan job
	closed bool

	running     atomic.Bool
	reconcileCh chan struct{}
	fatal       chan error
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if cfg.Root == "" {
		return nil, errors.New("root is required")
	}
	if deps.Store == nil || deps.Classifier == nil || deps.Gate == nil || deps.Dispatcher == nil {
		return nil, errors.New("store, classifier, gate and dispatcher are required")
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:         cfg,
		root:        abs,
		store:       deps.Store,
		cls:         deps.Classifier,
		gate:        deps.Gate,
		disp:        deps.Dispatcher,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Clock,
		reconcileCh: make(chan struct{}, 1),
		fatal:       make(chan error, 1),
		done:        make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.metrics.State(Idle.String(), StateNames())
	return c, nil
}

// Root returns the absolute monitored directory.
func (c *Coordinator) Root() string { return c.root }

func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Info("State transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	c.metrics.State(s.String(), StateNames())
}

// casState moves from -> to and reports whether it did.
func (c *Coordinator) casState(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.logger.Info("State transition", zap.Stringer("from", from), zap.Stringer("to", to))
	c.metrics.State(to.String(), StateNames())
	return true
}

// Baseline returns the committed baseline, or nil before Start.
func (c *Coordinator) Baseline() *baseline.Baseline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseline
}

func (c *Coordinator) swapBaseline(b *baseline.Baseline) {
	c.mu.Lock()
	c.baseline = b
	c.mu.Unlock()
	c.metrics.Baseline(b.Len(), b.Skipped())
}

// Subscribe registers fn to be called with every outcome. fn runs on a
// worker goroutine and must not block.
func (c *Coordinator) Subscribe(fn func(Outcome)) {
	c.subMu.Lock()
	c.subs = append(c.subs, fn)
	c.subMu.Unlock()
}

func (c *Coordinator) publish(o Outcome) {
	c.subMu.RLock()
	subs := c.subs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(o)
	}
}

// Start resolves the baseline: the most recent snapshot for this root, or a
// fresh one when none exists, it is corrupt, or a rebuild was requested.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.State() != Idle {
		return fmt.Errorf("start: coordinator is %s", c.State())
	}
	st, err := os.Stat(c.root)
	if err != nil {
		return fmt.Errorf("monitored root unavailable: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("monitored root %s is not a directory", c.root)
	}

	if !c.cfg.ForceRebuild {
		b, err := c.store.MostRecent()
		switch {
		case err == nil && b.Root() == c.root:
			c.logger.Info("Loaded baseline",
				zap.String("snapshot", b.ID()), zap.Int("entries", b.Len()))
			c.swapBaseline(b)
			c.setState(Watching)
			return nil
		case err == nil:
			c.logger.Info("Latest baseline covers a different root; rebuilding",
				zap.String("snapshot", b.ID()), zap.String("baseline_root", b.Root()))
		case errors.Is(err, baseline.ErrSnapshotNotFound):
			c.logger.Info("No baseline found; creating one")
		case errors.Is(err, baseline.ErrCorruptSnapshot):
			c.logger.Error("Baseline failed integrity check; rebuilding", zap.Error(err))
		default:
			c.logger.Warn("Failed to load baseline; rebuilding", zap.Error(err))
		}
	}

	c.setState(Baselining)
	b, err := c.build(ctx)
	if err != nil {
		c.setState(Idle)
		return err
	}
	c.swapBaseline(b)
	c.setState(Watching)
	return nil
}

func (c *Coordinator) build(ctx context.Context) (*baseline.Baseline, error) {
	start := time.Now()
	b, err := c.store.Create(ctx, c.root)
	if err != nil {
		return nil, fmt.Errorf("failed to build baseline: %w", err)
	}
	if c.audit != nil {
		if err := c.audit.LogBaseline(b.ID(), b.Root(), b.Len(), time.Since(start)); err != nil {
			c.logger.Warn("Failed to write audit record", zap.Error(err))
		}
	}
	return b, nil
}

// Rebuild creates a new baseline while monitoring continues. Events keep
// being classified against the old baseline until the new one is committed
// and swapped in.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.casState(Watching, Baselining) {
		return fmt.Errorf("rebuild: coordinator is %s: %w", c.State(), ErrBusy)
	}
	b, err := c.build(ctx)
	if err != nil {
		c.casState(Baselining, Watching)
		return err
	}
	c.swapBaseline(b)
	c.casState(Baselining, Watching)
	return nil
}

// TriggerReconcile requests a reconciliation pass from a running
// coordinator. It never blocks; it reports false if a request is already
// queued or Run is not active.
func (c *Coordinator) TriggerReconcile() bool {
	if !c.running.Load() {
		return false
	}
	select {
	case c.reconcileCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// Inject pushes a synthetic finding through throttle and dispatch. Missing
// id, timestamp, severity and source are filled in.
func (c *Coordinator) Inject(ctx context.Context, f types.Finding) Outcome {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ObservedAt.IsZero() {
		f.ObservedAt = c.now()
	}
	if f.Severity == "" {
		f.Severity = c.cfg.Alert.SeverityFor(f.Kind)
	}
	if f.Source == "" {
		f.Source = types.SourceSynthetic
	}
	if c.State() == Stopped {
		return Outcome{Finding: f, Err: ErrStopped}
	}
	return c.handle(ctx, f)
}

func (c *Coordinator) admit(path string) (bool, error) {
	l := &c.admitMu[xxhash.Sum64String(path)%uint64(len(c.admitMu))]
	l.Lock()
	defer l.Unlock()
	return c.gate.Admit(path, c.now())
}

// currentUser names the account running the process, falling back to
// $USER and then "unknown".
func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// handle runs one finding through throttle, dispatch and audit.
func (c *Coordinator) handle(ctx context.Context, f types.Finding) Outcome {
	if f.User == "" {
		f.User = c.cfg.User
	}
	c.metrics.Finding(string(f.Kind), string(f.Severity), f.Source)
	log := c.logger.With(zap.String("path", f.Path), zap.String("kind", string(f.Kind)),
		zap.String("user", f.User))
	log.Info("File change detected",
		zap.String("severity", string(f.Severity)),
		zap.String("source", f.Source),
		zap.String("old_path", f.OldPath))

	o := Outcome{Finding: f}
	admitted, err := c.admit(f.Path)
	if err != nil {
		log.Error("Throttle contract violated", zap.Error(err))
		o.Err = err
		c.fail(err)
		c.record(o)
		return o
	}
	o.Admitted = admitted
	if !admitted {
		log.Info("Alert throttled")
		c.metrics.Throttled()
		c.record(o)
		return o
	}
	res := c.disp.Dispatch(ctx, f)
	o.Delivered, o.Err = res.Delivered, res.Err
	c.metrics.Dispatched(res.Delivered)
	c.record(o)
	return o
}

func (c *Coordinator) record(o Outcome) {
	if c.audit != nil {
		if err := c.audit.LogFinding(o.Finding, o.Admitted, o.Delivered, o.Err); err != nil {
			c.logger.Warn("Failed to write audit record", zap.Error(err))
		}
	}
	c.publish(o)
}

// fail reports a fatal error to Run. Only the first one is kept.
func (c *Coordinator) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

// Stop cancels Run and waits for it to drain, up to the shutdown timeout.
func (c *Coordinator) Stop() error {
	c.qmu.RLock()
	cancel := c.cancel
	c.qmu.RUnlock()
	if cancel == nil {
		c.setState(Stopped)
		return nil
	}
	cancel()
	select {
	case <-c.done:
		return nil
	case <-time.After(c.cfg.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}
