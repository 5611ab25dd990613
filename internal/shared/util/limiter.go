package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces work with a token bucket. A nil *Limiter never blocks.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a token bucket limiter with r tokens per second and burst b.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(r), b),
	}
}

// NewPacer returns a burst-1 limiter for r operations per second, or nil when r <= 0.
func NewPacer(r float64) *Limiter {
	if r <= 0 {
		return nil
	}
	return NewLimiter(r, 1)
}

// Allow reports whether n tokens are available now.
func (l *Limiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	return l.inner.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return ctx.Err()
	}
	return l.inner.WaitN(ctx, n)
}
