package fimwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/engine"
	"github.com/varalys/fimwatch/internal/tui"
	"github.com/varalys/fimwatch/internal/watch"
	"go.uber.org/zap"
)

var (
	flagRebuild           bool
	flagReconcileInterval time.Duration
	flagMetricsAddr       string
	flagTUI               bool
	flagDryRun            bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor the root and alert on changes since the baseline",
		Long: `Monitor the root and alert on changes since the baseline.

The most recent baseline for the root is reused unless --rebuild is given or
it fails its integrity check. SIGHUP records a fresh baseline without
stopping; SIGUSR1 requests an immediate reconciliation.`,
		RunE: runWatch,
	}
	cmd.Flags().BoolVar(&flagRebuild, "rebuild", false, "record a fresh baseline before watching")
	cmd.Flags().DurationVar(&flagReconcileInterval, "reconcile-interval", 0, "periodically compare the whole tree with the baseline (0 = off)")
	cmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9110")
	cmd.Flags().BoolVar(&flagTUI, "tui", false, "show a live terminal view of findings")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log alerts instead of sending them")
	rootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()
	if err := s.requireRoot(); err != nil {
		return err
	}
	mon, err := s.newMonitor(flagRebuild, flagDryRun)
	if err != nil {
		return err
	}
	defer mon.Close()
	coord := mon.coord

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}

	w, err := watch.New(s.root,
		watch.WithFilter(s.walk),
		watch.WithLogger(s.logger),
		watch.WithOverflow(func() { coord.TriggerReconcile() }))
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	if s.metricsAddr != "" {
		srv := &http.Server{Addr: s.metricsAddr, Handler: metricsMux(mon), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		s.logger.Info("Serving metrics", zap.String("addr", s.metricsAddr))
	}

	stopSignals := handleControlSignals(ctx, coord, s.logger)
	defer stopSignals()

	if !flagTUI {
		coord.Subscribe(printOutcome(cmd.OutOrStdout()))
		if err := coord.Run(ctx, w.Events()); err != nil {
			return err
		}
		return coord.Stop()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = coord.Run(runCtx, w.Events())
		cancel()
	}()
	tuiErr := tui.Run(runCtx, coord)
	cancel()
	wg.Wait()
	if runErr != nil {
		return runErr
	}
	return tuiErr
}

func metricsMux(mon *monitor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := mon.coord.State()
		if st == engine.Stopped {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, st)
	})
	return mux
}

// printOutcome writes one line per processed finding.
func printOutcome(w io.Writer) func(engine.Outcome) {
	var mu sync.Mutex
	return func(o engine.Outcome) {
		f := o.Finding
		status := "alerted"
		switch {
		case !o.Admitted:
			status = "throttled"
		case o.Err != nil:
			status = "delivery failed: " + o.Err.Error()
		case !o.Delivered:
			status = "not delivered"
		}
		p := f.Path
		if f.OldPath != "" {
			p = f.OldPath + " -> " + f.Path
		}
		mu.Lock()
		fmt.Fprintf(w, "%s %-6s %-8s %s (%s)\n", f.ObservedAt.Format(time.RFC3339), f.Severity, f.Kind, p, status)
		mu.Unlock()
	}
}
