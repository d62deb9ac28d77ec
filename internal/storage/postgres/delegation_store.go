package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// DelegationStore implements storage.DelegationStore using PostgreSQL.
type DelegationStore struct {
	pool *Pool
}

// NewDelegationStore creates a new DelegationStore.
func NewDelegationStore(pool *Pool) *DelegationStore {
	return &DelegationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DelegationStore = (*DelegationStore)(nil)

// Upsert inserts or replaces a delegation keyed by ID.
// Only revocation fields change on conflict.
func (s *DelegationStore) Upsert(ctx context.Context, d *domain.Delegation) (err error) {
	if d == nil || d.ID == "" || d.VaultID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_delegation", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO delegations (id, vault_id, delegate_identity, approved_at, revoked_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			revoked_at = EXCLUDED.revoked_at,
			is_active  = EXCLUDED.is_active
	`, d.ID, d.VaultID, d.DelegateIdentity, d.ApprovedAt, d.RevokedAt, d.IsActive)
	if err != nil {
		return fmt.Errorf("upsert delegation: %w", err)
	}
	return nil
}

// GetByID retrieves a delegation by its ID. Returns ErrNotFound if not exists.
func (s *DelegationStore) GetByID(ctx context.Context, id string) (d *domain.Delegation, err error) {
	start := time.Now()
	defer func() { observe("get_delegation", start, err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT id, vault_id, delegate_identity, approved_at, revoked_at, is_active
		FROM delegations
		WHERE id = $1
	`, id)
	d, err = scanDelegation(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get delegation by id: %w", err)
	}
	return d, nil
}

// ListByVault retrieves all delegations of a vault, ordered by approved_at ASC.
func (s *DelegationStore) ListByVault(ctx context.Context, vaultID string) (result []*domain.Delegation, err error) {
	start := time.Now()
	defer func() { observe("list_delegations", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT id, vault_id, delegate_identity, approved_at, revoked_at, is_active
		FROM delegations
		WHERE vault_id = $1
		ORDER BY approved_at ASC, id ASC
	`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("list delegations by vault: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delegation: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delegations: %w", err)
	}
	return result, nil
}

func scanDelegation(row pgx.Row) (*domain.Delegation, error) {
	var d domain.Delegation
	if err := row.Scan(&d.ID, &d.VaultID, &d.DelegateIdentity, &d.ApprovedAt, &d.RevokedAt, &d.IsActive); err != nil {
		return nil, err
	}
	return &d, nil
}
