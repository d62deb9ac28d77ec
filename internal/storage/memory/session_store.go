package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// SessionStore is an in-memory implementation of storage.SessionStore.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Session // keyed by session id
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		data: make(map[string]*domain.Session),
	}
}

var _ storage.SessionStore = (*SessionStore)(nil)

// Upsert inserts or replaces a session keyed by ID.
func (s *SessionStore) Upsert(_ context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[sess.ID] = sess.Clone()
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sess.Clone(), nil
}

// GetByVault retrieves the most recent session bound to a vault address.
func (s *SessionStore) GetByVault(_ context.Context, vaultAddress string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Session
	for _, sess := range s.data {
		if sess.VaultAddress != vaultAddress {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

// ListByOwner retrieves all sessions of an owner, ordered by created_at ASC.
func (s *SessionStore) ListByOwner(_ context.Context, owner string) ([]*domain.Session, error) {
	return s.filter(func(sess *domain.Session) bool {
		return sess.Owner == owner
	}, byCreatedAt), nil
}

// ListActiveByOwner retrieves active sessions of an owner with expires_at > now.
func (s *SessionStore) ListActiveByOwner(_ context.Context, owner string, now time.Time) ([]*domain.Session, error) {
	return s.filter(func(sess *domain.Session) bool {
		return sess.Owner == owner && sess.IsActive && sess.ExpiresAt.After(now)
	}, byCreatedAt), nil
}

// ListExpired retrieves active sessions with expires_at <= now, ordered by expires_at ASC.
func (s *SessionStore) ListExpired(_ context.Context, now time.Time) ([]*domain.Session, error) {
	return s.filter(func(sess *domain.Session) bool {
		return sess.IsActive && !sess.ExpiresAt.After(now)
	}, byExpiresAt), nil
}

func (s *SessionStore) filter(keep func(*domain.Session) bool, less func(a, b *domain.Session) bool) []*domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.data {
		if keep(sess) {
			result = append(result, sess.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	return result
}

func byCreatedAt(a, b *domain.Session) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func byExpiresAt(a, b *domain.Session) bool {
	if !a.ExpiresAt.Equal(b.ExpiresAt) {
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
	return a.ID < b.ID
}
