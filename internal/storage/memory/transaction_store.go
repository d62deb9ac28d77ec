package memory

import (
	"context"
	"sort"
	"sync"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transaction // keyed by transaction id
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.Transaction),
	}
}

var _ storage.TransactionStore = (*TransactionStore)(nil)

// Insert adds a new transaction. Returns ErrDuplicateKey if id exists.
func (s *TransactionStore) Insert(_ context.Context, t *domain.Transaction) error {
	if t == nil || t.ID == "" || !t.Kind.IsValid() || !t.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[t.ID] = t.Clone()
	return nil
}

// Finalize moves a pending transaction to a final status.
func (s *TransactionStore) Finalize(_ context.Context, id string, status domain.TransactionStatus, externalRef *string) error {
	if !status.IsFinal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Status.IsFinal() {
		return storage.ErrImmutable
	}
	t.Status = status
	if externalRef != nil {
		ref := *externalRef
		t.ExternalReference = &ref
	}
	return nil
}

// GetByID retrieves a transaction by its ID. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// ListByVault retrieves transactions of a vault, ordered by timestamp ASC.
func (s *TransactionStore) ListByVault(_ context.Context, vaultID string) ([]*domain.Transaction, error) {
	return s.filter(func(t *domain.Transaction) bool { return t.VaultID == vaultID }), nil
}

// ListBySession retrieves transactions of a session, ordered by timestamp ASC.
func (s *TransactionStore) ListBySession(_ context.Context, sessionID string) ([]*domain.Transaction, error) {
	return s.filter(func(t *domain.Transaction) bool { return t.SessionID == sessionID }), nil
}

func (s *TransactionStore) filter(keep func(*domain.Transaction) bool) []*domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, t := range s.data {
		if keep(t) {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
