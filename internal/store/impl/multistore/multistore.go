package multistore

import (
	"context"

	"nuha.dev/formrelay/internal/store"
	"nuha.dev/formrelay/internal/submission"
)

// MultiStore offers each record to every sink in order. The first error is
// returned but does not stop the remaining sinks.
type MultiStore struct {
	sinks []store.Store
}

func New(sinks ...store.Store) *MultiStore {
	return &MultiStore{sinks: sinks}
}

func (m *MultiStore) Put(ctx context.Context, rec submission.Record) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Put(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *MultiStore) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
