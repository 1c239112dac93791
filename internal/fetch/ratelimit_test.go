package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	window := 200 * time.Millisecond
	l := NewSlidingWindowLimiter(SlidingWindowConfig{
		RequestsPerSecond: 10, // 2 per 200ms window
		Window:            window,
	})

	ctx := context.Background()
	var grants []time.Time
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Acquire(ctx, "example.com"))
		grants = append(grants, time.Now())
	}

	// Any trailing window of granted admissions holds at most the limit.
	for i := range grants {
		inWindow := 0
		for j := range grants {
			d := grants[i].Sub(grants[j])
			if d >= 0 && d < window-5*time.Millisecond {
				inWindow++
			}
		}
		if inWindow > 2 {
			t.Fatalf("window ending at grant %d holds %d admissions, limit is 2", i, inWindow)
		}
	}
}

func TestSlidingWindowFractionalRateStretchesWindow(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindowLimiter(SlidingWindowConfig{RequestsPerSecond: 0.5})
	assert.Equal(t, 1, l.limit)
	assert.Equal(t, 2*time.Second, l.window, "0.5 rps is one admission per 2s")

	l = NewSlidingWindowLimiter(SlidingWindowConfig{RequestsPerSecond: 0.1})
	assert.Equal(t, 1, l.limit)
	assert.Equal(t, 10*time.Second, l.window)
}

func TestSlidingWindowFractionalRatePacesAcquires(t *testing.T) {
	t.Parallel()

	// 5 rps against a 100ms window is half an admission per window, so
	// the limiter must stretch to one admission per 200ms.
	l := NewSlidingWindowLimiter(SlidingWindowConfig{
		RequestsPerSecond: 5,
		Window:            100 * time.Millisecond,
	})
	require.Equal(t, 1, l.limit)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "host"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 390*time.Millisecond,
		"three admissions at one per 200ms need at least two full gaps")
}

func TestSlidingWindowScopesAreIndependent(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindowLimiter(SlidingWindowConfig{
		RequestsPerSecond: 1,
		Window:            time.Second,
	})

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "a.com"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "b.com"))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "scope b must not wait behind scope a")
}

func TestSlidingWindowCancelWhileWaiting(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindowLimiter(SlidingWindowConfig{
		RequestsPerSecond: 1,
		Window:            time.Second,
	})

	require.NoError(t, l.Acquire(context.Background(), "host"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "host")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlidingWindowUnlimitedWhenRateZero(t *testing.T) {
	t.Parallel()

	l := NewSlidingWindowLimiter(SlidingWindowConfig{RequestsPerSecond: 0})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(ctx, "host"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSlidingWindowConcurrentAcquires(t *testing.T) {
	t.Parallel()

	window := 100 * time.Millisecond
	l := NewSlidingWindowLimiter(SlidingWindowConfig{
		RequestsPerSecond: 20, // 2 per 100ms window
		Window:            window,
	})

	const callers = 6
	var mu sync.Mutex
	var grants []time.Time
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background(), "host"); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, grants, callers)
	for i := range grants {
		inWindow := 0
		for j := range grants {
			d := grants[i].Sub(grants[j])
			if d >= 0 && d < window-5*time.Millisecond {
				inWindow++
			}
		}
		if inWindow > 2 {
			t.Fatalf("concurrent grants violate the window: %d in one window", inWindow)
		}
	}
}

func TestTokenBucketLimiter(t *testing.T) {
	t.Parallel()

	l := NewTokenBucketLimiter(TokenBucketConfig{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "host"))

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "host"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "second token should wait ~100ms")

	// Other scopes are unaffected.
	start = time.Now()
	require.NoError(t, l.Acquire(ctx, "other"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
