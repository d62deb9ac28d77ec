package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

func newSession(id, owner, vault string, created time.Time, ttl time.Duration) *domain.Session {
	return &domain.Session{
		ID:                id,
		Owner:             owner,
		VaultAddress:      vault,
		EphemeralIdentity: "eph-" + id,
		EncryptedSecret:   "sealed",
		CreatedAt:         created,
		ExpiresAt:         created.Add(ttl),
		LastActivityAt:    created,
		IsActive:          true,
		OriginAddress:     "10.0.0.1",
	}
}

func TestSessionStore_UpsertAndGet(t *testing.T) {
	pool := setupTestDB(t)

	store := NewSessionStore(pool)
	ctx := context.Background()

	s := newSession("s1", "alice", "vault1", t0, time.Hour)
	s.ApprovedLimit = 100000
	require.NoError(t, store.Upsert(ctx, s))

	got, err := store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "eph-s1", got.EphemeralIdentity)
	assert.Equal(t, uint64(100000), got.ApprovedLimit)
	assert.Nil(t, got.DeviceFingerprint)

	s.AvailableAmount = 500
	s.TotalDeposited = 500
	s.IsActive = false
	require.NoError(t, store.Upsert(ctx, s))

	got, err = store.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.AvailableAmount)
	assert.False(t, got.IsActive)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetByVault(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionStore_Queries(t *testing.T) {
	pool := setupTestDB(t)

	store := NewSessionStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newSession("s1", "alice", "vault1", t0, time.Minute)))
	require.NoError(t, store.Upsert(ctx, newSession("s2", "alice", "vault1", t0.Add(time.Second), time.Hour)))
	require.NoError(t, store.Upsert(ctx, newSession("s3", "bob", "vault2", t0, 2*time.Minute)))

	latest, err := store.GetByVault(ctx, "vault1")
	require.NoError(t, err)
	assert.Equal(t, "s2", latest.ID)

	all, err := store.ListByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s1", all[0].ID)

	now := t0.Add(5 * time.Minute)
	active, err := store.ListActiveByOwner(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "s1", expired[0].ID)
	assert.Equal(t, "s3", expired[1].ID)
}
