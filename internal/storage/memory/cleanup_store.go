package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// CleanupStore is an in-memory implementation of storage.CleanupStore.
type CleanupStore struct {
	mu     sync.RWMutex
	events []domain.CleanupEvent
	ids    map[string]struct{}
}

// NewCleanupStore creates a new in-memory cleanup event store.
func NewCleanupStore() *CleanupStore {
	return &CleanupStore{
		ids: make(map[string]struct{}),
	}
}

var _ storage.CleanupStore = (*CleanupStore)(nil)

// Insert adds a new cleanup event. Returns ErrDuplicateKey if id exists.
func (s *CleanupStore) Insert(_ context.Context, e *domain.CleanupEvent) error {
	if e == nil || e.ID == "" || e.VaultID == "" || !e.Reason.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[e.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.ids[e.ID] = struct{}{}
	s.events = append(s.events, *e)
	return nil
}

// ListByVault retrieves cleanup events of a vault, ordered by cleaned_at ASC.
func (s *CleanupStore) ListByVault(_ context.Context, vaultID string) ([]*domain.CleanupEvent, error) {
	return s.filter(func(e *domain.CleanupEvent) bool { return e.VaultID == vaultID }), nil
}

// ListByTimeRange retrieves cleanup events within [start, end] (inclusive).
func (s *CleanupStore) ListByTimeRange(_ context.Context, start, end time.Time) ([]*domain.CleanupEvent, error) {
	return s.filter(func(e *domain.CleanupEvent) bool {
		return !e.CleanedAt.Before(start) && !e.CleanedAt.After(end)
	}), nil
}

func (s *CleanupStore) filter(keep func(*domain.CleanupEvent) bool) []*domain.CleanupEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CleanupEvent
	for i := range s.events {
		if keep(&s.events[i]) {
			e := s.events[i]
			result = append(result, &e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CleanedAt.Before(result[j].CleanedAt)
	})
	return result
}
