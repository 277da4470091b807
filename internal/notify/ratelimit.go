package notify

import (
	"context"
	"errors"

	"github.com/varalys/fimwatch/internal/alert"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the global delivery budget is exhausted.
var ErrRateLimited = errors.New("notify: global rate limit exceeded")

// RateLimited caps deliveries across all paths. It never blocks: a denied
// message fails with ErrRateLimited and is not retried.
type RateLimited struct {
	next    alert.Notifier
	limiter *rate.Limiter
}

func NewRateLimited(next alert.Notifier, limit rate.Limit, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Notify(ctx context.Context, msg alert.Message) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.next.Notify(ctx, msg)
}
