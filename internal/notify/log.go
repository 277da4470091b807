package notify

import (
	"context"

	"github.com/varalys/fimwatch/internal/alert"
	"go.uber.org/zap"
)

// Log writes alerts to a zap logger. It is the fallback when no transport
// is configured and never fails.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, msg alert.Message) error {
	f := msg.Finding
	l.logger.Warn(msg.Subject,
		zap.String("kind", string(f.Kind)),
		zap.String("path", f.Path),
		zap.String("old_path", f.OldPath),
		zap.String("severity", string(f.Severity)),
		zap.String("previous_digest", f.PreviousDigest),
		zap.String("current_digest", f.CurrentDigest),
		zap.Strings("recipients", msg.Recipients),
		zap.String("finding", f.ID))
	return nil
}
