package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter adapts golang.org/x/time/rate to the RateLimiter
// interface. The zero value is invalid; use NewTokenBucketLimiter.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
}

// NewTokenBucketLimiter creates a limiter allowing rps requests per second
// with the given burst. A burst below 1 is raised to 1 so a single request
// can always proceed.
func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Wait blocks until a request is allowed under the rate limit.
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
