package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// VaultStore implements storage.VaultStore using PostgreSQL.
type VaultStore struct {
	pool *Pool
}

// NewVaultStore creates a new VaultStore.
func NewVaultStore(pool *Pool) *VaultStore {
	return &VaultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.VaultStore = (*VaultStore)(nil)

const vaultColumns = `
	id, bump, owner, ephemeral_identity, created_at, expires_at, last_activity_at,
	approved_limit, used_amount, available_amount, total_deposited, total_returned,
	is_active, status, origin_address, device_fingerprint
`

// Upsert inserts or replaces a vault keyed by ID.
func (s *VaultStore) Upsert(ctx context.Context, v *domain.Vault) (err error) {
	if v == nil || v.ID == "" || !v.Status.IsValid() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_vault", start, err) }()

	query := `
		INSERT INTO vaults (` + vaultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			bump               = EXCLUDED.bump,
			owner              = EXCLUDED.owner,
			ephemeral_identity = EXCLUDED.ephemeral_identity,
			created_at         = EXCLUDED.created_at,
			expires_at         = EXCLUDED.expires_at,
			last_activity_at   = EXCLUDED.last_activity_at,
			approved_limit     = EXCLUDED.approved_limit,
			used_amount        = EXCLUDED.used_amount,
			available_amount   = EXCLUDED.available_amount,
			total_deposited    = EXCLUDED.total_deposited,
			total_returned     = EXCLUDED.total_returned,
			is_active          = EXCLUDED.is_active,
			status             = EXCLUDED.status,
			origin_address     = EXCLUDED.origin_address,
			device_fingerprint = EXCLUDED.device_fingerprint
	`

	_, err = s.pool.Exec(ctx, query,
		v.ID, int16(v.Bump), v.Owner, v.EphemeralIdentity, v.CreatedAt, v.ExpiresAt, v.LastActivityAt,
		lamports(v.ApprovedLimit), lamports(v.UsedAmount), lamports(v.AvailableAmount),
		lamports(v.TotalDeposited), lamports(v.TotalReturned),
		v.IsActive, string(v.Status), v.OriginAddress, v.DeviceFingerprint,
	)
	if err != nil {
		return fmt.Errorf("upsert vault: %w", err)
	}
	return nil
}

// GetByID retrieves a vault by address. Returns ErrNotFound if not exists.
func (s *VaultStore) GetByID(ctx context.Context, id string) (v *domain.Vault, err error) {
	start := time.Now()
	defer func() { observe("get_vault", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE id = $1`, id)
	v, err = scanVault(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get vault by id: %w", err)
	}
	return v, nil
}

// ListActive retrieves every active vault, expired or not, ordered by created_at ASC.
func (s *VaultStore) ListActive(ctx context.Context) ([]*domain.Vault, error) {
	return s.list(ctx, "list_all_active_vaults", `
		SELECT `+vaultColumns+` FROM vaults
		WHERE is_active
		ORDER BY created_at ASC, id ASC
	`)
}

// ListActiveByOwner retrieves active vaults of an owner with expires_at > now.
func (s *VaultStore) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]*domain.Vault, error) {
	return s.list(ctx, "list_active_vaults", `
		SELECT `+vaultColumns+` FROM vaults
		WHERE owner = $1 AND is_active AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, owner, now)
}

// ListExpired retrieves active vaults with expires_at <= now, ordered by expires_at ASC.
func (s *VaultStore) ListExpired(ctx context.Context, now time.Time) ([]*domain.Vault, error) {
	return s.list(ctx, "list_expired_vaults", `
		SELECT `+vaultColumns+` FROM vaults
		WHERE is_active AND expires_at <= $1
		ORDER BY expires_at ASC, id ASC
	`, now)
}

func (s *VaultStore) list(ctx context.Context, operation, query string, args ...any) (result []*domain.Vault, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vaults: %w", err)
	}
	return result, nil
}

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var v domain.Vault
	var bump int16
	var status string
	var limit, used, available, total, returned decimal.Decimal

	err := row.Scan(
		&v.ID, &bump, &v.Owner, &v.EphemeralIdentity, &v.CreatedAt, &v.ExpiresAt, &v.LastActivityAt,
		&limit, &used, &available, &total, &returned,
		&v.IsActive, &status, &v.OriginAddress, &v.DeviceFingerprint,
	)
	if err != nil {
		return nil, err
	}

	v.Bump = uint8(bump)
	v.Status = domain.VaultStatus(status)
	for _, f := range []struct {
		dst    *uint64
		src    decimal.Decimal
		column string
	}{
		{&v.ApprovedLimit, limit, "approved_limit"},
		{&v.UsedAmount, used, "used_amount"},
		{&v.AvailableAmount, available, "available_amount"},
		{&v.TotalDeposited, total, "total_deposited"},
		{&v.TotalReturned, returned, "total_returned"},
	} {
		if *f.dst, err = toLamports(f.src, f.column); err != nil {
			return nil, err
		}
	}
	return &v, nil
}
