package notify

import (
	"fmt"

	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FromConfig builds the notifier described by cfg. With no transport
// configured it returns a Log notifier. The returned func releases
// connections and is always non-nil.
func FromConfig(cfg config.NotifyConfig, logger *zap.Logger) (alert.Notifier, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		ns      Multi
		closers []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	if cfg.SMTP != nil {
		s, err := NewSMTP(*cfg.SMTP)
		if err != nil {
			return nil, cleanup, err
		}
		ns = append(ns, s)
	}
	if cfg.Webhook != nil {
		w, err := NewWebhook(*cfg.Webhook)
		if err != nil {
			return nil, cleanup, err
		}
		ns = append(ns, w)
	}
	if cfg.NATS != nil {
		n, err := NewNATS(*cfg.NATS, logger)
		if err != nil {
			return nil, cleanup, err
		}
		ns = append(ns, n)
		closers = append(closers, n.Close)
	}

	var out alert.Notifier
	switch len(ns) {
	case 0:
		out = NewLog(logger)
	case 1:
		out = ns[0]
	default:
		out = ns
	}
	if rl := cfg.RateLimit; rl != nil {
		if rl.PerMinute <= 0 {
			return nil, cleanup, fmt.Errorf("rate_limit.per_minute must be > 0, got %v", rl.PerMinute)
		}
		out = NewRateLimited(out, rate.Limit(rl.PerMinute/60), rl.Burst)
	}
	return out, cleanup, nil
}
