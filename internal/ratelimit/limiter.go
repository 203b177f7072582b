// Package ratelimit paces outbound requests so probes do not hammer the
// assets being assessed.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by every worker of a stage.
type Limiter struct {
	limiter *rate.Limiter
}

type Config struct {
	RequestsPerSecond float64
	BurstSize         int
}

// NewLimiter returns a limiter. A non-positive RequestsPerSecond means
// unlimited.
func NewLimiter(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *Limiter) Unlimited() bool {
	return l.limiter.Limit() == rate.Inf
}
