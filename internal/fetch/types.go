// Package fetch implements the attempt policy engine: a bounded retry loop
// that combines rate limiting, ban detection, backoff, and identity rotation
// over a pluggable Transport.
package fetch

import (
	"net/http"
	"net/url"
	"time"
)

// AttemptOutcome labels why a single attempt ended the way it did.
type AttemptOutcome string

// Attempt outcomes recorded in the audit trail.
const (
	OutcomeSuccess        AttemptOutcome = "success"
	OutcomeTransportError AttemptOutcome = "transport_error"
	OutcomeHTTPError      AttemptOutcome = "http_error"
	OutcomeRateLimited    AttemptOutcome = "rate_limited"
	OutcomeBlocked        AttemptOutcome = "blocked"
	OutcomeClientError    AttemptOutcome = "client_error"
)

// FailureKind labels the terminal failure of a whole request.
type FailureKind string

// Terminal failure kinds.
const (
	FailureClientError       FailureKind = "client_error"
	FailureBlocked           FailureKind = "blocked"
	FailurePoolExhausted     FailureKind = "pool_exhausted"
	FailureAttemptsExhausted FailureKind = "attempts_exhausted"
	FailureTimeout           FailureKind = "timeout"
)

// Request describes one logical fetch. It is immutable once submitted:
// the orchestrator never mutates it and the caller must not either.
type Request struct {
	// ID identifies the request in stores and events. Optional for
	// embedded use; the service surface always assigns one.
	ID string `json:"id"`
	// URL is the absolute target URL.
	URL string `json:"url"`
	// Scope is the sharing key for rate limiting, typically the target
	// host. Derived from URL when empty.
	Scope string `json:"scope,omitempty"`
	// Headers are merged over the orchestrator's default headers.
	Headers http.Header `json:"headers,omitempty"`
	// MaxAttempts overrides the orchestrator default when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Timeout bounds the whole request including rate-limiter waits and
	// backoff sleeps. Zero means no overall deadline.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// EffectiveScope returns the configured scope, falling back to the URL host.
func (r Request) EffectiveScope() string {
	if r.Scope != "" {
		return r.Scope
	}
	if u, err := url.Parse(r.URL); err == nil {
		return u.Hostname()
	}
	return r.URL
}

// AttemptRecord is the immutable audit entry for one transport invocation.
type AttemptRecord struct {
	Index      int            `json:"index"`
	Proxy      string         `json:"proxy,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	Outcome    AttemptOutcome `json:"outcome"`
	StatusCode int            `json:"status_code,omitempty"`
	// Reason carries the matched ban pattern, the transport error text,
	// or the blocked status, depending on Outcome.
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Response is what a Transport returns for a completed attempt.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Result is the single terminal outcome of a Request: either a successful
// response or a terminal failure, never both, plus the full attempt trail.
type Result struct {
	RequestID   string      `json:"request_id,omitempty"`
	URL         string      `json:"url"`
	Success     bool        `json:"success"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`

	// Populated on success only.
	StatusCode int         `json:"status_code,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	// WonAttempt is the index of the successful attempt.
	WonAttempt int `json:"won_attempt,omitempty"`

	Attempts []AttemptRecord `json:"attempts"`
}

// LastAttempt returns the final attempt record, or nil if none were made.
func (r *Result) LastAttempt() *AttemptRecord {
	if len(r.Attempts) == 0 {
		return nil
	}
	return &r.Attempts[len(r.Attempts)-1]
}
