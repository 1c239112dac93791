// Package memory provides in-memory storage implementations for
// development and testing.
package memory

import (
	"context"
	"sync"

	"github.com/tmorandi/stubborn/internal/storage"
)

// TrailStore keeps fetch records in a map guarded by a RWMutex.
type TrailStore struct {
	mu      sync.RWMutex
	records map[string]storage.Record
}

// NewTrailStore constructs an empty TrailStore.
func NewTrailStore() *TrailStore {
	return &TrailStore{
		records: make(map[string]storage.Record),
	}
}

// Save stores a record keyed by its request ID. Saving the same ID twice
// overwrites the earlier record.
func (s *TrailStore) Save(_ context.Context, rec storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Result.RequestID] = rec
	return nil
}

// Get fetches a record by request ID.
func (s *TrailStore) Get(_ context.Context, id string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

// Len reports the number of stored records.
func (s *TrailStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
