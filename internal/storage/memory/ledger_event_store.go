package memory

import (
	"context"
	"sort"
	"sync"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// LedgerEventStore is an in-memory implementation of storage.LedgerEventStore.
type LedgerEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEvent // keyed by event_id
}

// NewLedgerEventStore creates a new in-memory ledger event store.
func NewLedgerEventStore() *LedgerEventStore {
	return &LedgerEventStore{
		data: make(map[string]*domain.LedgerEvent),
	}
}

var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *LedgerEventStore) Insert(_ context.Context, e *domain.LedgerEvent) error {
	if e == nil || e.EventID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *e
	s.data[e.EventID] = &cp
	return nil
}

// InsertBulk adds multiple events. Fails entire batch on any duplicate.
func (s *LedgerEventStore) InsertBulk(_ context.Context, events []*domain.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, dup := seen[e.EventID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
	}
	for _, e := range events {
		cp := *e
		s.data[e.EventID] = &cp
	}
	return nil
}

// GetByVault retrieves events of a vault, ordered by sequence ASC.
func (s *LedgerEventStore) GetByVault(_ context.Context, vaultID string) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.VaultID == vaultID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Sequence < result[j].Sequence
	})
	return result, nil
}

// VolumeByKind sums amount+fee per event kind for a vault.
func (s *LedgerEventStore) VolumeByKind(_ context.Context, vaultID string) (map[domain.EventKind]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[domain.EventKind]uint64)
	for _, e := range s.data {
		if e.VaultID == vaultID {
			result[e.Kind] += e.Amount + e.Fee
		}
	}
	return result, nil
}
