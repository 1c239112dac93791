package fetch

import (
	"crypto/rand"
	"math/big"
	"time"
)

// BackoffPolicy computes the delay before the next retry attempt. A server
// hint (e.g. Retry-After) overrides the local exponential heuristic. With
// Jitter disabled, Delay is a pure function of its inputs.
type BackoffPolicy struct {
	// Base is the delay before the second attempt. Defaults to 250ms.
	Base time.Duration
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
	// Jitter, when true, adds up to one extra Base-scaled random slice to
	// desynchronize concurrent retriers.
	Jitter bool
}

// DefaultBackoffPolicy mirrors the shipped defaults: 250ms base, 5s cap.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base: 250 * time.Millisecond,
		Max:  5 * time.Second,
	}
}

// Delay returns the wait before attempt index+1. A positive hint is returned
// verbatim: server intent overrides the local heuristic.
func (p BackoffPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	base := p.Base
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	delay := base
	// Shift instead of math.Pow; clamp the exponent so large attempt
	// indices cannot overflow into negative durations.
	if attempt > 0 {
		if attempt > 30 {
			attempt = 30
		}
		delay = base << uint(attempt)
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	if p.Jitter {
		delay += randomJitter(delay / 2)
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return delay
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
