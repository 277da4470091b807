//go:build unix

package fimwatch

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/varalys/fimwatch/internal/engine"
	"go.uber.org/zap"
)

// handleControlSignals maps SIGHUP to a baseline rebuild and SIGUSR1 to a
// reconcile request. The returned func stops the handler.
func handleControlSignals(ctx context.Context, coord *engine.Coordinator, logger *zap.Logger) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case syscall.SIGHUP:
					logger.Info("Rebuilding baseline on SIGHUP")
					if err := coord.Rebuild(ctx); err != nil {
						logger.Error("Baseline rebuild failed", zap.Error(err))
					}
				case syscall.SIGUSR1:
					if !coord.TriggerReconcile() {
						logger.Info("Reconcile already pending")
					}
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
