package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/varalys/fimwatch/internal/throttle"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

// ReconcileResult summarises one reconciliation pass. Outcomes is only
// filled when the pass ran without workers (one-shot use); otherwise
// outcomes reach subscribers asynchronously.
type ReconcileResult struct {
	Snapshot string
	Scanned  int
	Findings []types.Finding
	Outcomes []Outcome
	Duration time.Duration
}

// Reconcile walks the live tree, compares it with the committed baseline and
// routes the differences like watch findings. The baseline is not changed.
func (c *Coordinator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	b := c.Baseline()
	if b == nil {
		return ReconcileResult{}, ErrNoBaseline
	}
	if !c.casState(Watching, Reconciling) {
		return ReconcileResult{}, fmt.Errorf("reconcile: coordinator is %s: %w", c.State(), ErrBusy)
	}
	defer c.casState(Reconciling, Watching)

	start := time.Now()
	live, err := c.store.Scan(ctx, b.Root())
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile aborted: %w", err)
	}
	res := ReconcileResult{
		Snapshot: b.ID(),
		Scanned:  len(live),
		Findings: c.cls.Diff(b, live, c.now()),
	}

	c.qmu.RLock()
	inline := c.queues == nil && !c.closed
	c.qmu.RUnlock()
	for _, f := range res.Findings {
		if inline {
			o := c.handle(ctx, f)
			res.Outcomes = append(res.Outcomes, o)
			if errors.Is(o.Err, throttle.ErrNonMonotonic) {
				return res, o.Err
			}
			continue
		}
		if err := c.enqueue(ctx, job{findings: []types.Finding{f}}); err != nil {
			return res, fmt.Errorf("reconcile aborted: %w", err)
		}
	}

	res.Duration = time.Since(start)
	c.metrics.Reconciled(res.Duration)
	if c.audit != nil {
		if err := c.audit.LogReconcile(b.ID(), res.Scanned, len(res.Findings), res.Duration); err != nil {
			c.logger.Warn("Failed to write audit record", zap.Error(err))
		}
	}
	c.logger.Info("Reconciliation complete",
		zap.String("snapshot", b.ID()),
		zap.Int("scanned", res.Scanned),
		zap.Int("changes", len(res.Findings)),
		zap.Duration("took", res.Duration))
	return res, nil
}
