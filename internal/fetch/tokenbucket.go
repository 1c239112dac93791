package fetch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter is an alternative Limiter built on golang.org/x/time's
// token bucket. It trades the sliding-window guarantee for burst tolerance:
// a scope may briefly exceed the steady rate by up to Burst admissions.
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// TokenBucketConfig controls the limiter.
type TokenBucketConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// NewTokenBucketLimiter builds a per-scope token bucket limiter.
func NewTokenBucketLimiter(cfg TokenBucketConfig) *TokenBucketLimiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Acquire waits for a token for the given scope, respecting the context.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, scope string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[scope]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[scope] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
