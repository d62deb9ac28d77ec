package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// CleanupStore implements storage.CleanupStore using PostgreSQL.
type CleanupStore struct {
	pool *Pool
}

// NewCleanupStore creates a new CleanupStore.
func NewCleanupStore(pool *Pool) *CleanupStore {
	return &CleanupStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CleanupStore = (*CleanupStore)(nil)

// Insert adds a new cleanup event. Returns ErrDuplicateKey if id exists.
func (s *CleanupStore) Insert(ctx context.Context, e *domain.CleanupEvent) (err error) {
	if e == nil || e.ID == "" || e.VaultID == "" || !e.Reason.IsValid() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_cleanup_event", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cleanup_events (id, vault_id, returned_amount, reason, cleaned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.VaultID, lamports(e.ReturnedAmount), string(e.Reason), e.CleanedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert cleanup event: %w", err)
	}
	return nil
}

// ListByVault retrieves cleanup events of a vault, ordered by cleaned_at ASC.
func (s *CleanupStore) ListByVault(ctx context.Context, vaultID string) ([]*domain.CleanupEvent, error) {
	return s.list(ctx, "list_cleanup_by_vault", `
		SELECT id, vault_id, returned_amount, reason, cleaned_at
		FROM cleanup_events
		WHERE vault_id = $1
		ORDER BY cleaned_at ASC, id ASC
	`, vaultID)
}

// ListByTimeRange retrieves cleanup events within [start, end] (inclusive).
func (s *CleanupStore) ListByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.CleanupEvent, error) {
	return s.list(ctx, "list_cleanup_by_time", `
		SELECT id, vault_id, returned_amount, reason, cleaned_at
		FROM cleanup_events
		WHERE cleaned_at >= $1 AND cleaned_at <= $2
		ORDER BY cleaned_at ASC, id ASC
	`, start, end)
}

func (s *CleanupStore) list(ctx context.Context, operation, query string, args ...any) (result []*domain.CleanupEvent, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.CleanupEvent
		var returned decimal.Decimal
		var reason string
		if err := rows.Scan(&e.ID, &e.VaultID, &returned, &reason, &e.CleanedAt); err != nil {
			return nil, fmt.Errorf("scan cleanup event: %w", err)
		}
		if e.ReturnedAmount, err = toLamports(returned, "returned_amount"); err != nil {
			return nil, err
		}
		e.Reason = domain.CleanupReason(reason)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cleanup events: %w", err)
	}
	return result, nil
}
