//go:build !unix

package fimwatch

import (
	"context"

	"github.com/varalys/fimwatch/internal/engine"
	"go.uber.org/zap"
)

func handleControlSignals(context.Context, *engine.Coordinator, *zap.Logger) func() {
	return func() {}
}
