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

// SessionStore implements storage.SessionStore using PostgreSQL.
type SessionStore struct {
	pool *Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SessionStore = (*SessionStore)(nil)

const sessionColumns = `
	id, owner, vault_address, ephemeral_identity, encrypted_secret,
	created_at, expires_at, last_activity_at, is_active, origin_address, device_fingerprint,
	approved_limit, used_amount, available_amount, total_deposited
`

// Upsert inserts or replaces a session keyed by ID.
func (s *SessionStore) Upsert(ctx context.Context, sess *domain.Session) (err error) {
	if sess == nil || sess.ID == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_session", start, err) }()

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			last_activity_at = EXCLUDED.last_activity_at,
			expires_at       = EXCLUDED.expires_at,
			is_active        = EXCLUDED.is_active,
			approved_limit   = EXCLUDED.approved_limit,
			used_amount      = EXCLUDED.used_amount,
			available_amount = EXCLUDED.available_amount,
			total_deposited  = EXCLUDED.total_deposited
	`

	_, err = s.pool.Exec(ctx, query,
		sess.ID, sess.Owner, sess.VaultAddress, sess.EphemeralIdentity, sess.EncryptedSecret,
		sess.CreatedAt, sess.ExpiresAt, sess.LastActivityAt, sess.IsActive, sess.OriginAddress, sess.DeviceFingerprint,
		lamports(sess.ApprovedLimit), lamports(sess.UsedAmount), lamports(sess.AvailableAmount), lamports(sess.TotalDeposited),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by its ID. Returns ErrNotFound if not exists.
func (s *SessionStore) GetByID(ctx context.Context, id string) (sess *domain.Session, err error) {
	start := time.Now()
	defer func() { observe("get_session", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err = scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by id: %w", err)
	}
	return sess, nil
}

// GetByVault retrieves the most recent session bound to a vault address.
func (s *SessionStore) GetByVault(ctx context.Context, vaultAddress string) (sess *domain.Session, err error) {
	start := time.Now()
	defer func() { observe("get_session_by_vault", start, err) }()

	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE vault_address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, vaultAddress)
	sess, err = scanSession(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get session by vault: %w", err)
	}
	return sess, nil
}

// ListByOwner retrieves all sessions of an owner, ordered by created_at ASC.
func (s *SessionStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Session, error) {
	return s.list(ctx, "list_sessions_by_owner", `
		SELECT `+sessionColumns+` FROM sessions
		WHERE owner = $1
		ORDER BY created_at ASC, id ASC
	`, owner)
}

// ListActiveByOwner retrieves active sessions of an owner with expires_at > now.
func (s *SessionStore) ListActiveByOwner(ctx context.Context, owner string, now time.Time) ([]*domain.Session, error) {
	return s.list(ctx, "list_active_sessions", `
		SELECT `+sessionColumns+` FROM sessions
		WHERE owner = $1 AND is_active AND expires_at > $2
		ORDER BY created_at ASC, id ASC
	`, owner, now)
}

// ListExpired retrieves active sessions with expires_at <= now, ordered by expires_at ASC.
func (s *SessionStore) ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	return s.list(ctx, "list_expired_sessions", `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_active AND expires_at <= $1
		ORDER BY expires_at ASC, id ASC
	`, now)
}

func (s *SessionStore) list(ctx context.Context, operation, query string, args ...any) (result []*domain.Session, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	var limit, used, available, total decimal.Decimal

	err := row.Scan(
		&sess.ID, &sess.Owner, &sess.VaultAddress, &sess.EphemeralIdentity, &sess.EncryptedSecret,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivityAt, &sess.IsActive, &sess.OriginAddress, &sess.DeviceFingerprint,
		&limit, &used, &available, &total,
	)
	if err != nil {
		return nil, err
	}

	if sess.ApprovedLimit, err = toLamports(limit, "approved_limit"); err != nil {
		return nil, err
	}
	if sess.UsedAmount, err = toLamports(used, "used_amount"); err != nil {
		return nil, err
	}
	if sess.AvailableAmount, err = toLamports(available, "available_amount"); err != nil {
		return nil, err
	}
	if sess.TotalDeposited, err = toLamports(total, "total_deposited"); err != nil {
		return nil, err
	}
	return &sess, nil
}
