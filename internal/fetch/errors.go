package fetch

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned by RotationPool.Next when no entries remain.
var ErrPoolExhausted = errors.New("rotation pool exhausted")

// TransportErrorKind classifies transport-level failures.
type TransportErrorKind string

// Transport failure kinds.
const (
	TransportConnect TransportErrorKind = "connect"
	TransportTimeout TransportErrorKind = "timeout"
	TransportTLS     TransportErrorKind = "tls"
)

// TransportError is the failure a Transport reports when no HTTP response
// was obtained at all. The orchestrator treats every kind as transient.
type TransportError struct {
	Kind    TransportErrorKind
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Kind, e.Message)
}

// FailureError is the terminal error returned by Orchestrator.Fetch. The
// accompanying Result carries the full attempt trail; this error alone is
// enough to interpret the outcome.
type FailureError struct {
	Kind     FailureKind
	Attempts int
	Last     *AttemptRecord
}

func (e *FailureError) Error() string {
	if e.Last != nil && e.Last.Reason != "" {
		return fmt.Sprintf("fetch failed (%s) after %d attempt(s): %s", e.Kind, e.Attempts, e.Last.Reason)
	}
	return fmt.Sprintf("fetch failed (%s) after %d attempt(s)", e.Kind, e.Attempts)
}

// FailureKindOf extracts the terminal failure kind from an error returned by
// Fetch, or "" if the error is nil or foreign.
func FailureKindOf(err error) FailureKind {
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
