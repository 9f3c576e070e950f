package limiter

import (
	"context"
	"time"

	"github.com/23skdu/annbench/internal/metrics"
	"golang.org/x/time/rate"
)

// Config holds query pacing configuration
type Config struct {
	Rate  float64 // query pairs per second, 0 means disabled
	Burst int     // 0 means 1
}

// RateLimiter paces the evaluation loop with a token bucket
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg Config) *RateLimiter {
	if cfg.Rate <= 0 {
		return &RateLimiter{enabled: false}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst),
		enabled: true,
	}
}

// Enabled reports whether Wait can block
func (l *RateLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Wait blocks until the next query pair may start. Only context errors are
// returned.
func (l *RateLimiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		metrics.PacingWaitsTotal.WithLabelValues("canceled").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	waited := time.Since(start)
	if waited > time.Millisecond {
		metrics.PacingWaitsTotal.WithLabelValues("throttled").Inc()
	} else {
		metrics.PacingWaitsTotal.WithLabelValues("allowed").Inc()
	}
	metrics.PacingWaitSeconds.Add(waited.Seconds())
	return nil
}
