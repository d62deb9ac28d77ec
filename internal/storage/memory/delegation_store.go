package memory

import (
	"context"
	"sort"
	"sync"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// DelegationStore is an in-memory implementation of storage.DelegationStore.
type DelegationStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Delegation // keyed by delegation id
}

// NewDelegationStore creates a new in-memory delegation store.
func NewDelegationStore() *DelegationStore {
	return &DelegationStore{
		data: make(map[string]*domain.Delegation),
	}
}

var _ storage.DelegationStore = (*DelegationStore)(nil)

// Upsert inserts or replaces a delegation keyed by ID.
func (s *DelegationStore) Upsert(_ context.Context, d *domain.Delegation) error {
	if d == nil || d.ID == "" || d.VaultID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[d.ID] = d.Clone()
	return nil
}

// GetByID retrieves a delegation by its ID. Returns ErrNotFound if not exists.
func (s *DelegationStore) GetByID(_ context.Context, id string) (*domain.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d.Clone(), nil
}

// ListByVault retrieves all delegations of a vault, ordered by approved_at ASC.
func (s *DelegationStore) ListByVault(_ context.Context, vaultID string) ([]*domain.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Delegation
	for _, d := range s.data {
		if d.VaultID == vaultID {
			result = append(result, d.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ApprovedAt.Equal(result[j].ApprovedAt) {
			return result[i].ApprovedAt.Before(result[j].ApprovedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
