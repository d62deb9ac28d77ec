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

// TransactionStore implements storage.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new TransactionStore.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)

const transactionColumns = `id, vault_id, session_id, kind, amount, fee, ts, status, external_reference`

// Insert adds a new transaction. Returns ErrDuplicateKey if id exists.
func (s *TransactionStore) Insert(ctx context.Context, t *domain.Transaction) (err error) {
	if t == nil || t.ID == "" || !t.Kind.IsValid() || !t.Status.IsValid() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_transaction", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.VaultID, t.SessionID, string(t.Kind), lamports(t.Amount), lamports(t.Fee),
		t.Timestamp, string(t.Status), t.ExternalReference)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Finalize moves a pending transaction to a final status.
// The status guard in the UPDATE makes concurrent finalization safe.
func (s *TransactionStore) Finalize(ctx context.Context, id string, status domain.TransactionStatus, externalRef *string) (err error) {
	if !status.IsFinal() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("finalize_transaction", start, err) }()

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $2, external_reference = COALESCE($3, external_reference)
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), externalRef)
	if err != nil {
		return fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a missing row from an already-final one.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrImmutable
}

// GetByID retrieves a transaction by its ID. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (t *domain.Transaction, err error) {
	start := time.Now()
	defer func() { observe("get_transaction", start, err) }()

	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err = scanTransaction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

// ListByVault retrieves transactions of a vault, ordered by timestamp ASC.
func (s *TransactionStore) ListByVault(ctx context.Context, vaultID string) ([]*domain.Transaction, error) {
	return s.list(ctx, "list_transactions_by_vault", `
		SELECT `+transactionColumns+` FROM transactions
		WHERE vault_id = $1
		ORDER BY ts ASC, id ASC
	`, vaultID)
}

// ListBySession retrieves transactions of a session, ordered by timestamp ASC.
func (s *TransactionStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.Transaction, error) {
	return s.list(ctx, "list_transactions_by_session", `
		SELECT `+transactionColumns+` FROM transactions
		WHERE session_id = $1
		ORDER BY ts ASC, id ASC
	`, sessionID)
}

func (s *TransactionStore) list(ctx context.Context, operation, query string, args ...any) (result []*domain.Transaction, err error) {
	start := time.Now()
	defer func() { observe(operation, start, err) }()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return result, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var kind, status string
	var amount, fee decimal.Decimal

	err := row.Scan(&t.ID, &t.VaultID, &t.SessionID, &kind, &amount, &fee, &t.Timestamp, &status, &t.ExternalReference)
	if err != nil {
		return nil, err
	}

	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	if t.Amount, err = toLamports(amount, "amount"); err != nil {
		return nil, err
	}
	if t.Fee, err = toLamports(fee, "fee"); err != nil {
		return nil, err
	}
	return &t, nil
}
