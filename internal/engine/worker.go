package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

// job is either a raw event to classify or findings ready for dispatch.
type job struct {
	ev       *types.RawEvent
	findings []types.Finding
}

func (j job) key() string {
	if j.ev != nil {
		return j.ev.Path
	}
	if len(j.findings) > 0 {
		return j.findings[0].Path
	}
	return ""
}

// Run processes events until ctx is cancelled, events is closed, or a fatal
// error occurs. Each event goes to the worker that owns its path, so events
// for one path are handled in arrival order and never concurrently. On exit
// queued work is drained and pending moves are flushed as fallback findings.
func (c *Coordinator) Run(ctx context.Context, events <-chan types.RawEvent) error {
	if s := c.State(); s != Watching {
		return fmt.Errorf("run: coordinator is %s", s)
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("run: %w", ErrBusy)
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	queues := make([]chan job, c.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan job, c.cfg.QueueSize)
	}
	c.qmu.Lock()
	c.cancel = cancel
	c.queues = queues
	c.qmu.Unlock()

	// Workers outlive ctx so that the drain can finish dispatching.
	workCtx := context.WithoutCancel(ctx)
	var workers sync.WaitGroup
	for _, q := range queues {
		workers.Add(1)
		go func(q chan job) {
			defer workers.Done()
			c.work(workCtx, q)
		}(q)
	}

	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		c.housekeep(ctx, workCtx)
	}()
	go func() {
		defer bg.Done()
		c.reconcileLoop(ctx)
	}()

	c.logger.Info("Watching for changes",
		zap.String("root", c.root),
		zap.Int("workers", c.cfg.Workers))

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-c.fatal:
			runErr = err
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			c.metrics.Event(string(ev.Kind))
			if err := c.enqueue(workCtx, job{ev: &ev}); err != nil {
				c.logger.Warn("Dropped event", zap.String("path", ev.Path), zap.Error(err))
			}
		}
	}

	cancel()
	bg.Wait()
	c.running.Store(false)
	c.logger.Info("Draining", zap.Int("pending_moves", c.cls.Pending()))

	for _, f := range c.cls.Flush() {
		_ = c.enqueue(workCtx, job{findings: []types.Finding{f}})
	}
	c.qmu.Lock()
	c.closed = true
	c.queues = nil
	for _, q := range queues {
		close(q)
	}
	c.qmu.Unlock()

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.logger.Warn("Shutdown timeout exceeded; abandoning queued work")
		if runErr == nil {
			runErr = ErrShutdownTimeout
		}
	}
	select {
	case err := <-c.fatal:
		if runErr == nil || errors.Is(runErr, ErrShutdownTimeout) {
			runErr = err
		}
	default:
	}

	c.setState(Stopped)
	if runErr != nil {
		c.logger.Error("Monitor stopped with error", zap.Error(runErr))
	} else {
		c.logger.Info("Monitor stopped")
	}
	return runErr
}

func (c *Coordinator) work(ctx context.Context, q <-chan job) {
	for j := range q {
		findings := j.findings
		if j.ev != nil {
			findings = c.cls.Classify(*j.ev, c.Baseline())
		}
		for _, f := range findings {
			c.handle(ctx, f)
		}
	}
}

// enqueue hands j to the worker owning its path. Without running workers the
// job is processed inline on the caller's goroutine.
func (c *Coordinator) enqueue(ctx context.Context, j job) error {
	c.qmu.RLock()
	if c.closed {
		c.qmu.RUnlock()
		return ErrStopped
	}
	if c.queues == nil {
		c.qmu.RUnlock()
		c.work(ctx, single(j))
		return nil
	}
	defer c.qmu.RUnlock()
	q := c.queues[xxhash.Sum64String(j.key())%uint64(len(c.queues))]
	select {
	case q <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func single(j job) <-chan job {
	ch := make(chan job, 1)
	ch <- j
	close(ch)
	return ch
}

// housekeep expires pending moves and sweeps throttle state on every tick.
// It runs off the ingest loop because degrading a move may hash a file.
func (c *Coordinator) housekeep(ctx, workCtx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := c.now()
			for _, f := range c.cls.Expire(now) {
				if err := c.enqueue(workCtx, job{findings: []types.Finding{f}}); err != nil {
					c.logger.Warn("Dropped expired move", zap.String("path", f.Path), zap.Error(err))
				}
			}
			if n := c.gate.Sweep(now); n > 0 {
				c.logger.Debug("Swept throttle state", zap.Int("evicted", n))
			}
			c.metrics.Gauges(c.cls.Pending(), c.gate.Len())
		}
	}
}

func (c *Coordinator) reconcileLoop(ctx context.Context) {
	var periodic <-chan time.Time
	if c.cfg.ReconcileInterval > 0 {
		t := time.NewTicker(c.cfg.ReconcileInterval)
		defer t.Stop()
		periodic = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-periodic:
		case <-c.reconcileCh:
		}
		if _, err := c.Reconcile(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Reconciliation failed", zap.Error(err))
		}
	}
}
