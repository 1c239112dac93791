// Package storage defines the persistence interfaces for fetch results.
// The abstraction keeps the worker independent of a specific backend
// (Postgres, Google Cloud Storage, the local filesystem, or memory).
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tmorandi/stubborn/internal/fetch"
)

// ErrNotFound is returned when no record exists for the requested ID.
var ErrNotFound = errors.New("fetch record not found")

// Record is a persisted fetch outcome together with its attempt trail.
type Record struct {
	Result    fetch.Result
	BlobURI   string
	CreatedAt time.Time
}

// TrailStore persists terminal fetch results and their attempt trails.
type TrailStore interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
}

// BlobStore archives response bodies and returns a URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpBlobStore discards bodies. Useful when archiving is disabled.
type NoOpBlobStore struct{}

// PutObject for NoOpBlobStore does nothing and returns an empty URI.
func (NoOpBlobStore) PutObject(_ context.Context, _ string, _ string, _ io.Reader) (string, error) {
	return "", nil
}
