// Package memory is a process-local db.Store for ephemeral runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/pixelquota/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store keeps blobs in a map. Values are copied on the way in and out.
type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	writeErr error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// FailWrites makes every following WriteBytes return err (nil clears it).
// Simulates a full or revoked local storage.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }

// ReadBytes returns a copy of the blob under key.
func (s *Store) ReadBytes(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, db.ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// WriteBytes stores a copy of data under key.
func (s *Store) WriteBytes(_ context.Context, key string, data []byte) error {
	if key == "" {
		return db.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return &db.Error{Op: db.OpWrite, Err: s.writeErr}
	}
	s.data[key] = append([]byte(nil), data...)
	return nil
}
