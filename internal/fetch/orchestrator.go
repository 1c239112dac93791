package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config controls Orchestrator behavior.
type Config struct {
	// MaxAttempts bounds the attempt loop. Defaults to 3.
	MaxAttempts int
	// AttemptTimeout bounds each individual transport call. Defaults to 15s.
	AttemptTimeout time.Duration
	// DefaultHeaders are sent with every attempt, under request overrides.
	DefaultHeaders http.Header
	// EvictOnBlock removes the offending proxy from the pool when the
	// detector reports a ban on an attempt that used it.
	EvictOnBlock bool
	// AbortOnBlock makes a detected ban immediately terminal instead of
	// retried with rotation.
	AbortOnBlock bool
}

// Orchestrator owns the per-request attempt loop: rate-limiter admission,
// identity rotation, one transport call, ban classification, and backoff,
// repeated until success, a terminal condition, or the attempt budget runs
// out. It is safe for concurrent use; all per-request state lives on the
// stack of Fetch.
type Orchestrator struct {
	transport Transport
	limiter   Limiter
	detector  *BanDetector
	backoff   BackoffPolicy
	proxies   *RotationPool
	agents    *RotationPool
	clock     Clock
	cfg       Config
}

// NewOrchestrator wires an Orchestrator. Transport is required; limiter,
// detector, pools, and clock may be nil, which disables rate limiting,
// installs the default detector, disables rotation, and uses the system
// clock respectively.
func NewOrchestrator(
	transport Transport,
	limiter Limiter,
	detector *BanDetector,
	backoff BackoffPolicy,
	proxies *RotationPool,
	agents *RotationPool,
	clock Clock,
	cfg Config,
) *Orchestrator {
	if detector == nil {
		detector = NewBanDetector(nil, nil)
	}
	if clock == nil {
		clock = realClock{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 15 * time.Second
	}
	return &Orchestrator{
		transport: transport,
		limiter:   limiter,
		detector:  detector,
		backoff:   backoff,
		proxies:   proxies,
		agents:    agents,
		clock:     clock,
		cfg:       cfg,
	}
}

// DefaultHeaders returns the browser-like header baseline sent with every
// attempt unless overridden per request.
func DefaultHeaders() http.Header {
	return http.Header{
		"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language": {"en-US,en;q=0.5"},
		"Connection":      {"keep-alive"},
		"Dnt":             {"1"},
	}
}

// Fetch runs the attempt loop for one request and returns exactly one
// terminal outcome: (result, nil) on success or (result, *FailureError) on
// terminal failure. The result's attempt trail fully explains the outcome
// either way.
func (o *Orchestrator) Fetch(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	scope := req.EffectiveScope()
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = o.cfg.MaxAttempts
	}

	res := Result{RequestID: req.ID, URL: req.URL}

	for i := 0; i < maxAttempts; i++ {
		if err := o.admit(ctx, scope); err != nil {
			return failResult(&res, FailureTimeout)
		}

		proxy, agent, err := o.identities()
		if err != nil {
			return failResult(&res, FailurePoolExhausted)
		}

		started := o.clock.Now()
		resp, attemptErr := o.transport.Attempt(ctx, req.URL, o.buildHeaders(req.Headers, agent), proxy, o.cfg.AttemptTimeout)
		rec := AttemptRecord{
			Index:     i,
			Proxy:     proxy,
			UserAgent: agent,
			StartedAt: started,
			Elapsed:   o.clock.Now().Sub(started),
		}
		last := i == maxAttempts-1

		if attemptErr != nil {
			rec.Outcome = OutcomeTransportError
			rec.Reason = attemptErr.Error()
			res.Attempts = append(res.Attempts, rec)
			if ctx.Err() != nil {
				return failResult(&res, FailureTimeout)
			}
			if last {
				continue
			}
			if !o.pause(ctx, o.backoff.Delay(i, 0)) {
				return failResult(&res, FailureTimeout)
			}
			continue
		}

		rec.StatusCode = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests {
			rec.Outcome = OutcomeRateLimited
			rec.Reason = "status 429"
			res.Attempts = append(res.Attempts, rec)
			if last {
				continue
			}
			hint := retryAfterHint(resp.Headers, o.clock.Now())
			if !o.pause(ctx, o.backoff.Delay(i, hint)) {
				return failResult(&res, FailureTimeout)
			}
			continue
		}

		if cls := o.detector.Classify(resp.StatusCode, resp.Body); cls.Blocked {
			rec.Outcome = OutcomeBlocked
			rec.Reason = cls.Reason
			res.Attempts = append(res.Attempts, rec)
			if o.cfg.EvictOnBlock && o.proxies != nil && proxy != "" {
				o.proxies.Remove(proxy)
			}
			if o.cfg.AbortOnBlock {
				return failResult(&res, FailureBlocked)
			}
			if last {
				continue
			}
			if !o.pause(ctx, o.backoff.Delay(i, 0)) {
				return failResult(&res, FailureTimeout)
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			rec.Outcome = OutcomeSuccess
			res.Attempts = append(res.Attempts, rec)
			res.Success = true
			res.StatusCode = resp.StatusCode
			res.Headers = resp.Headers
			res.Body = resp.Body
			res.WonAttempt = i
			return res, nil

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Not covered by the blocked-status set and not 429: a
			// plain client error carries no retry semantics.
			rec.Outcome = OutcomeClientError
			rec.Reason = fmt.Sprintf("status %d", resp.StatusCode)
			res.Attempts = append(res.Attempts, rec)
			return failResult(&res, FailureClientError)

		default:
			rec.Outcome = OutcomeHTTPError
			rec.Reason = fmt.Sprintf("status %d", resp.StatusCode)
			res.Attempts = append(res.Attempts, rec)
			if last {
				continue
			}
			if !o.pause(ctx, o.backoff.Delay(i, 0)) {
				return failResult(&res, FailureTimeout)
			}
		}
	}

	return failResult(&res, FailureAttemptsExhausted)
}

func (o *Orchestrator) admit(ctx context.Context, scope string) error {
	if o.limiter != nil {
		return o.limiter.Acquire(ctx, scope)
	}
	return ctx.Err()
}

func (o *Orchestrator) identities() (string, string, error) {
	var proxy, agent string
	var err error
	if o.proxies != nil {
		if proxy, err = o.proxies.Next(); err != nil {
			return "", "", err
		}
	}
	if o.agents != nil {
		if agent, err = o.agents.Next(); err != nil {
			return "", "", err
		}
	}
	return proxy, agent, nil
}

func (o *Orchestrator) buildHeaders(overrides http.Header, agent string) http.Header {
	headers := make(http.Header, len(o.cfg.DefaultHeaders)+len(overrides)+1)
	for k, vs := range o.cfg.DefaultHeaders {
		headers[k] = append([]string(nil), vs...)
	}
	for k, vs := range overrides {
		headers[k] = append([]string(nil), vs...)
	}
	if agent != "" {
		headers.Set("User-Agent", agent)
	}
	return headers
}

// pause sleeps for delay unless the context ends first; reports whether the
// full delay elapsed.
func (o *Orchestrator) pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// retryAfterHint extracts a Retry-After duration from response headers.
// Accepts delta-seconds or an HTTP date; returns 0 when absent or invalid.
func retryAfterHint(headers http.Header, now time.Time) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func failResult(res *Result, kind FailureKind) (Result, error) {
	res.Success = false
	res.FailureKind = kind
	return *res, &FailureError{
		Kind:     kind,
		Attempts: len(res.Attempts),
		Last:     res.LastAttempt(),
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
