package fetch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit attempts per trailing window for
// each scope. Admission within a scope is FIFO by arrival order of Acquire
// calls; scopes never block each other.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	scopes map[string]*scopeWindow
}

type scopeWindow struct {
	// gate holds one token. Waiters queue FIFO on the channel receive,
	// which is what gives the limiter its arrival-order fairness.
	gate   chan struct{}
	stamps []time.Time
}

// SlidingWindowConfig controls the limiter.
type SlidingWindowConfig struct {
	// RequestsPerSecond is the admitted rate per scope. Zero or negative
	// disables limiting.
	RequestsPerSecond float64
	// Window is the trailing window; defaults to one second. Shorter
	// windows are mainly useful in tests.
	Window time.Duration
}

// NewSlidingWindowLimiter builds a limiter from cfg.
func NewSlidingWindowLimiter(cfg SlidingWindowConfig) *SlidingWindowLimiter {
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	limit := 0
	if cfg.RequestsPerSecond > 0 {
		limit = int(math.Floor(cfg.RequestsPerSecond * window.Seconds()))
		if limit < 1 {
			// Fractional rates stretch the window instead of rounding
			// the budget up: 0.5 rps means one admission per 2s, not
			// one per second.
			limit = 1
			window = time.Duration(float64(time.Second) / cfg.RequestsPerSecond)
		}
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		scopes: make(map[string]*scopeWindow),
	}
}

// Acquire blocks until the scope's rate budget admits one more attempt, then
// records the admission timestamp. Returns the context's error if the wait
// is canceled or times out.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context, scope string) error {
	if l.limit <= 0 {
		return ctx.Err()
	}
	s := l.scope(scope)

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-s.gate:
	}
	defer func() { s.gate <- struct{}{} }()

	for {
		now := time.Now()
		s.prune(now.Add(-l.window))
		if len(s.stamps) < l.limit {
			s.stamps = append(s.stamps, now)
			return nil
		}
		wait := s.stamps[0].Add(l.window).Sub(now)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *SlidingWindowLimiter) scope(name string) *scopeWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[name]
	if !ok {
		s = &scopeWindow{gate: make(chan struct{}, 1)}
		s.gate <- struct{}{}
		l.scopes[name] = s
	}
	return s
}

// prune drops admission stamps older than the window start. Only the gate
// holder touches stamps, so no extra locking is needed here.
func (s *scopeWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}
