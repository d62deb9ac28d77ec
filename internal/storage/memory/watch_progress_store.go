package memory

import (
	"context"
	"sync"

	"ephemeral-vault/internal/storage"
)

// WatchProgressStore is an in-memory implementation of storage.WatchProgressStore.
type WatchProgressStore struct {
	mu       sync.RWMutex
	progress *storage.WatchProgress
}

// NewWatchProgressStore creates a new in-memory watch progress store.
func NewWatchProgressStore() *WatchProgressStore {
	return &WatchProgressStore{}
}

var _ storage.WatchProgressStore = (*WatchProgressStore)(nil)

// GetLastProcessed returns the last processed slot and signature.
func (s *WatchProgressStore) GetLastProcessed(_ context.Context) (*storage.WatchProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.progress == nil {
		return nil, storage.ErrNotFound
	}
	p := *s.progress
	return &p, nil
}

// SetLastProcessed saves the last processed slot and signature.
func (s *WatchProgressStore) SetLastProcessed(_ context.Context, progress *storage.WatchProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := *progress
	s.progress = &p
	return nil
}
