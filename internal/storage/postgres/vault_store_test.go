package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestVaultStore_UpsertAndGet(t *testing.T) {
	pool := setupTestDB(t)

	store := NewVaultStore(pool)
	ctx := context.Background()

	v := &domain.Vault{
		ID:                "vault1",
		Bump:              254,
		Owner:             "alice",
		CreatedAt:         t0,
		ExpiresAt:         t0.Add(time.Hour),
		LastActivityAt:    t0,
		ApprovedLimit:     math.MaxUint64,
		AvailableAmount:   50000,
		TotalDeposited:    50000,
		IsActive:          true,
		Status:            domain.VaultStatusActive,
		OriginAddress:     "10.0.0.1",
		DeviceFingerprint: ptr("fp"),
	}
	require.NoError(t, store.Upsert(ctx, v))

	got, err := store.GetByID(ctx, "vault1")
	require.NoError(t, err)
	assert.Equal(t, uint8(254), got.Bump)
	assert.Equal(t, uint64(math.MaxUint64), got.ApprovedLimit)
	assert.Equal(t, uint64(50000), got.AvailableAmount)
	assert.Equal(t, "fp", *got.DeviceFingerprint)
	assert.True(t, got.ExpiresAt.Equal(v.ExpiresAt))

	v.EphemeralIdentity = "eph"
	v.AvailableAmount = 29000
	v.UsedAmount = 21000
	require.NoError(t, store.Upsert(ctx, v))

	got, err = store.GetByID(ctx, "vault1")
	require.NoError(t, err)
	assert.Equal(t, "eph", got.EphemeralIdentity)
	assert.Equal(t, uint64(21000), got.UsedAmount)
	assert.True(t, got.Balanced())

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVaultStore_RejectsUnbalanced(t *testing.T) {
	pool := setupTestDB(t)

	store := NewVaultStore(pool)
	ctx := context.Background()

	v := &domain.Vault{
		ID: "bad", Owner: "alice", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), LastActivityAt: t0,
		ApprovedLimit: 100, AvailableAmount: 10, TotalDeposited: 20,
		IsActive: true, Status: domain.VaultStatusActive,
	}
	assert.Error(t, store.Upsert(ctx, v))

	v.Status = "BOGUS"
	assert.ErrorIs(t, store.Upsert(ctx, v), storage.ErrInvalidInput)
}

func TestVaultStore_ListQueries(t *testing.T) {
	pool := setupTestDB(t)

	store := NewVaultStore(pool)
	ctx := context.Background()

	mk := func(id, owner string, ttl time.Duration, active bool) *domain.Vault {
		status := domain.VaultStatusActive
		if !active {
			status = domain.VaultStatusCleaned
		}
		return &domain.Vault{
			ID: id, Owner: owner, CreatedAt: t0, ExpiresAt: t0.Add(ttl), LastActivityAt: t0,
			ApprovedLimit: 1000, IsActive: active, Status: status,
		}
	}
	for _, v := range []*domain.Vault{
		mk("v1", "alice", time.Hour, true),
		mk("v2", "alice", time.Minute, true),
		mk("v3", "alice", time.Minute, false),
		mk("v4", "bob", 2*time.Minute, true),
	} {
		require.NoError(t, store.Upsert(ctx, v))
	}

	now := t0.Add(5 * time.Minute)

	active, err := store.ListActiveByOwner(ctx, "alice", now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "v1", active[0].ID)

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "v2", expired[0].ID)
	assert.Equal(t, "v4", expired[1].ID)

	all, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "v1", all[0].ID)
	assert.Equal(t, "v2", all[1].ID)
	assert.Equal(t, "v4", all[2].ID)
}
