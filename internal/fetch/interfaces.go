package fetch

import (
	"context"
	"net/http"
	"time"
)

// Transport performs one request attempt. Implementations issue exactly one
// logical request and report either a Response or an error; no retry logic
// lives behind this seam. The call must honor ctx cancellation and the
// per-attempt timeout.
type Transport interface {
	Attempt(ctx context.Context, url string, headers http.Header, proxy string, timeout time.Duration) (Response, error)
}

// Limiter admits attempts at a bounded rate per scope. Acquire blocks the
// caller until the scope's budget allows one more attempt, or returns the
// context's error if the wait is canceled.
type Limiter interface {
	Acquire(ctx context.Context, scope string) error
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
