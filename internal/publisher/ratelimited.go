package publisher

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an inner gateway with a token bucket shared
// by every caller in the process.
type RateLimited struct {
	Inner   Gateway
	Limiter *rate.Limiter
}

// NewRateLimited wraps inner with rps requests per second and the given burst.
// A non-positive rps disables throttling.
func NewRateLimited(inner Gateway, rps float64, burst int) *RateLimited {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimited{Inner: inner, Limiter: lim}
}

// Publish implements Gateway.
func (r *RateLimited) Publish(ctx context.Context, req Request) (Result, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("publish throttled: %w", err)
	}
	return r.Inner.Publish(ctx, req)
}
