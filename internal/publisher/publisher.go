// Package publisher defines the event publishing interface for completed
// fetches.
package publisher

import "context"

// Publisher emits an event for each terminal fetch result.
type Publisher interface {
	// Publish sends the payload to the named topic and returns the
	// broker-assigned message ID.
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// NoOp discards events. Useful when publishing is disabled.
type NoOp struct{}

// Publish for NoOp does nothing and returns an empty ID.
func (NoOp) Publish(_ context.Context, _ string, _ any) (string, error) {
	return "", nil
}
