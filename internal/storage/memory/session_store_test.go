package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

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
	store := NewSessionStore()
	ctx := context.Background()

	fp := "abc"
	s := newSession("s1", "owner", "vault1", t0, time.Hour)
	s.DeviceFingerprint = &fp

	if err := store.Upsert(ctx, s); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// stored copy is isolated from caller mutation
	*s.DeviceFingerprint = "mutated"
	s.AvailableAmount = 99

	got, err := store.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.AvailableAmount != 0 || *got.DeviceFingerprint != "abc" {
		t.Errorf("stored session was mutated: %+v", got)
	}

	got.AvailableAmount = 500
	if err := store.Upsert(ctx, got); err != nil {
		t.Fatalf("Upsert (update) failed: %v", err)
	}
	again, _ := store.GetByID(ctx, "s1")
	if again.AvailableAmount != 500 {
		t.Errorf("AvailableAmount = %d, want 500", again.AvailableAmount)
	}
}

func TestSessionStore_Errors(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Upsert(nil) = %v, want ErrInvalidInput", err)
	}
	if err := store.Upsert(ctx, &domain.Session{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Upsert(empty id) = %v, want ErrInvalidInput", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByVault(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByVault(missing) = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_Queries(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	old := newSession("s-old", "alice", "vault1", t0, 30*time.Minute)
	live := newSession("s-live", "alice", "vault1", t0.Add(time.Minute), 2*time.Hour)
	revoked := newSession("s-revoked", "alice", "vault2", t0.Add(2*time.Minute), 2*time.Hour)
	revoked.IsActive = false
	bob := newSession("s-bob", "bob", "vault3", t0, 10*time.Minute)

	for _, s := range []*domain.Session{live, bob, revoked, old} {
		if err := store.Upsert(ctx, s); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	now := t0.Add(time.Hour)

	all, _ := store.ListByOwner(ctx, "alice")
	if len(all) != 3 || all[0].ID != "s-old" || all[2].ID != "s-revoked" {
		t.Errorf("ListByOwner order = %v", ids(all))
	}

	active, _ := store.ListActiveByOwner(ctx, "alice", now)
	if len(active) != 1 || active[0].ID != "s-live" {
		t.Errorf("ListActiveByOwner = %v, want [s-live]", ids(active))
	}

	expired, _ := store.ListExpired(ctx, now)
	if len(expired) != 2 || expired[0].ID != "s-bob" || expired[1].ID != "s-old" {
		t.Errorf("ListExpired = %v, want [s-bob s-old]", ids(expired))
	}

	// expires_at == now counts as expired
	atBoundary, _ := store.ListExpired(ctx, t0.Add(10*time.Minute))
	if len(atBoundary) != 1 || atBoundary[0].ID != "s-bob" {
		t.Errorf("ListExpired at boundary = %v", ids(atBoundary))
	}

	latest, err := store.GetByVault(ctx, "vault1")
	if err != nil || latest.ID != "s-live" {
		t.Errorf("GetByVault = %v, %v; want s-live", latest, err)
	}
}

func ids(sessions []*domain.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
