package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// VaultStore is an in-memory implementation of storage.VaultStore.
type VaultStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Vault // keyed by vault address
}

// NewVaultStore creates a new in-memory vault store.
func NewVaultStore() *VaultStore {
	return &VaultStore{
		data: make(map[string]*domain.Vault),
	}
}

var _ storage.VaultStore = (*VaultStore)(nil)

// Upsert inserts or replaces a vault keyed by ID.
func (s *VaultStore) Upsert(_ context.Context, v *domain.Vault) error {
	if v == nil || v.ID == "" || !v.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[v.ID] = v.Clone()
	return nil
}

// GetByID retrieves a vault by address. Returns ErrNotFound if not exists.
func (s *VaultStore) GetByID(_ context.Context, id string) (*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v.Clone(), nil
}

// ListActive retrieves every active vault, expired or not, ordered by created_at ASC.
func (s *VaultStore) ListActive(_ context.Context) ([]*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Vault
	for _, v := range s.data {
		if v.IsActive {
			result = append(result, v.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListActiveByOwner retrieves active vaults of an owner with expires_at > now.
func (s *VaultStore) ListActiveByOwner(_ context.Context, owner string, now time.Time) ([]*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Vault
	for _, v := range s.data {
		if v.Owner == owner && v.IsActive && v.ExpiresAt.After(now) {
			result = append(result, v.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListExpired retrieves active vaults with expires_at <= now, ordered by expires_at ASC.
func (s *VaultStore) ListExpired(_ context.Context, now time.Time) ([]*domain.Vault, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Vault
	for _, v := range s.data {
		if v.IsActive && !v.ExpiresAt.After(now) {
			result = append(result, v.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
