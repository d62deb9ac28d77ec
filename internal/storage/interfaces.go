package storage

import (
	"context"
	"time"

	"ephemeral-vault/internal/domain"
)

// SessionStore provides access to sessions storage.
type SessionStore interface {
	// Upsert inserts or replaces a session keyed by ID.
	Upsert(ctx context.Context, s *domain.Session) error

	// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// GetByVault retrieves the most recent session bound to a vault address.
	GetByVault(ctx context.Context, vaultAddress string) (*domain.Session, error)

	// ListByOwner retrieves all sessions of an owner, ordered by created_at ASC.
	ListByOwner(ctx context.Context, owner string) ([]*domain.Session, error)

	// ListActiveByOwner retrieves active sessions of an owner with expires_at > now.
	ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]*domain.Session, error)

	// ListExpired retrieves active sessions with expires_at <= now, ordered by expires_at ASC.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)
}

// VaultStore provides access to vaults storage.
type VaultStore interface {
	// Upsert inserts or replaces a vault keyed by ID.
	Upsert(ctx context.Context, v *domain.Vault) error

	// GetByID retrieves a vault by address. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Vault, error)

	// ListActive retrieves every active vault, expired or not, ordered by created_at ASC.
	ListActive(ctx context.Context) ([]*domain.Vault, error)

	// ListActiveByOwner retrieves active vaults of an owner with expires_at > now.
	ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]*domain.Vault, error)

	// ListExpired retrieves active vaults with expires_at <= now, ordered by expires_at ASC.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Vault, error)
}

// DelegationStore provides access to delegations storage.
// Records are never deleted.
type DelegationStore interface {
	// Upsert inserts or replaces a delegation keyed by ID.
	Upsert(ctx context.Context, d *domain.Delegation) error

	// GetByID retrieves a delegation by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Delegation, error)

	// ListByVault retrieves all delegations of a vault, ordered by approved_at ASC.
	ListByVault(ctx context.Context, vaultID string) ([]*domain.Delegation, error)
}

// TransactionStore provides access to transactions storage.
type TransactionStore interface {
	// Insert adds a new transaction. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, t *domain.Transaction) error

	// Finalize moves a pending transaction to a final status.
	// Returns ErrNotFound if not exists, ErrImmutable if already final,
	// ErrInvalidInput if status is not final.
	Finalize(ctx context.Context, id string, status domain.TransactionStatus, externalRef *string) error

	// GetByID retrieves a transaction by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)

	// ListByVault retrieves transactions of a vault, ordered by timestamp ASC.
	ListByVault(ctx context.Context, vaultID string) ([]*domain.Transaction, error)

	// ListBySession retrieves transactions of a session, ordered by timestamp ASC.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.Transaction, error)
}

// CleanupStore provides access to cleanup_events storage. Append-only.
type CleanupStore interface {
	// Insert adds a new cleanup event. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, e *domain.CleanupEvent) error

	// ListByVault retrieves cleanup events of a vault, ordered by cleaned_at ASC.
	ListByVault(ctx context.Context, vaultID string) ([]*domain.CleanupEvent, error)

	// ListByTimeRange retrieves cleanup events within [start, end] (inclusive).
	ListByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.CleanupEvent, error)
}

// LedgerEventStore provides access to ledger_events storage. Append-only.
type LedgerEventStore interface {
	// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.LedgerEvent) error

	// InsertBulk adds multiple events. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, events []*domain.LedgerEvent) error

	// GetByVault retrieves events of a vault, ordered by sequence ASC.
	GetByVault(ctx context.Context, vaultID string) ([]*domain.LedgerEvent, error)

	// VolumeByKind sums amount+fee per event kind for a vault.
	VolumeByKind(ctx context.Context, vaultID string) (map[domain.EventKind]uint64, error)
}

// WatchProgress is the last chain position processed by the activity watcher.
type WatchProgress struct {
	Slot      int64
	Signature string
}

// WatchProgressStore persists watcher progress so backfill resumes after restarts.
type WatchProgressStore interface {
	// GetLastProcessed returns the last processed slot and signature.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context) (*WatchProgress, error)

	// SetLastProcessed saves the last processed slot and signature.
	SetLastProcessed(ctx context.Context, progress *WatchProgress) error
}
