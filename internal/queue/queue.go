// Package queue defines the work queue between the API and the fetch workers.
package queue

import (
	"context"

	"github.com/tmorandi/stubborn/internal/fetch"
)

// Queue hands submitted fetch requests to workers.
type Queue interface {
	// Enqueue pushes a request or returns when the context ends.
	Enqueue(ctx context.Context, req fetch.Request) error

	// Dequeue pops the next request, respecting context cancellation.
	Dequeue(ctx context.Context) (fetch.Request, error)

	// Depth reports the number of waiting requests.
	Depth() int

	// Close shuts the queue down for draining.
	Close()
}
