package clickhouse

import (
	"context"
	"fmt"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/storage"
)

// LedgerEventStore implements storage.LedgerEventStore using ClickHouse.
// The table is a ReplacingMergeTree, so reads use FINAL and inserts check
// for existing event ids first.
type LedgerEventStore struct {
	conn *Conn
}

// NewLedgerEventStore creates a new LedgerEventStore.
func NewLedgerEventStore(conn *Conn) *LedgerEventStore {
	return &LedgerEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)

// Insert adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *LedgerEventStore) Insert(ctx context.Context, e *domain.LedgerEvent) error {
	return s.InsertBulk(ctx, []*domain.LedgerEvent{e})
}

// InsertBulk adds multiple events. Fails entire batch on any duplicate.
func (s *LedgerEventStore) InsertBulk(ctx context.Context, events []*domain.LedgerEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("insert_ledger_events", start, err) }()

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" || e.VaultID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, e := range events {
		exists, err := s.exists(ctx, e.EventID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			event_id, sequence, kind, vault_id, owner, delegate,
			amount, fee, returned, available_amount, used_amount, total_deposited, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID, e.Sequence, string(e.Kind), e.VaultID, e.Owner, e.Delegate,
			e.Amount, e.Fee, e.Returned, e.AvailableAmount, e.UsedAmount, e.TotalDeposited,
			e.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByVault retrieves events of a vault, ordered by sequence ASC.
func (s *LedgerEventStore) GetByVault(ctx context.Context, vaultID string) (events []*domain.LedgerEvent, err error) {
	start := time.Now()
	defer func() { observe("get_ledger_events", start, err) }()

	query := `
		SELECT event_id, sequence, kind, vault_id, owner, delegate,
		       amount, fee, returned, available_amount, used_amount, total_deposited, timestamp
		FROM ledger_events FINAL
		WHERE vault_id = ?
		ORDER BY sequence ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("query by vault: %w", err)
	}
	defer rows.Close()

	return scanLedgerEvents(rows)
}

// VolumeByKind sums amount+fee per event kind for a vault.
func (s *LedgerEventStore) VolumeByKind(ctx context.Context, vaultID string) (volume map[domain.EventKind]uint64, err error) {
	start := time.Now()
	defer func() { observe("volume_by_kind", start, err) }()

	query := `
		SELECT kind, sum(amount + fee)
		FROM ledger_events FINAL
		WHERE vault_id = ?
		GROUP BY kind
	`

	rows, err := s.conn.Query(ctx, query, vaultID)
	if err != nil {
		return nil, fmt.Errorf("query volume by kind: %w", err)
	}
	defer rows.Close()

	volume = make(map[domain.EventKind]uint64)
	for rows.Next() {
		var kind string
		var total uint64
		if err := rows.Scan(&kind, &total); err != nil {
			return nil, fmt.Errorf("scan volume row: %w", err)
		}
		volume[domain.EventKind(kind)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volume rows: %w", err)
	}
	return volume, nil
}

// exists checks if an event with the given id exists.
func (s *LedgerEventStore) exists(ctx context.Context, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM ledger_events WHERE event_id = ?`, eventID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanLedgerEvents scans multiple rows.
func scanLedgerEvents(rows chRows) ([]*domain.LedgerEvent, error) {
	var events []*domain.LedgerEvent

	for rows.Next() {
		var e domain.LedgerEvent
		var kind string

		err := rows.Scan(
			&e.EventID, &e.Sequence, &kind, &e.VaultID, &e.Owner, &e.Delegate,
			&e.Amount, &e.Fee, &e.Returned, &e.AvailableAmount, &e.UsedAmount, &e.TotalDeposited,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event row: %w", err)
		}

		e.Kind = domain.EventKind(kind)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger event rows: %w", err)
	}

	return events, nil
}
