package postgres

import (
	"context"
	"fmt"

	"ephemeral-vault/internal/storage"
)

// WatchProgressStore is a PostgreSQL implementation of storage.WatchProgressStore.
// The watch_progress table holds a single row.
type WatchProgressStore struct {
	pool *Pool
}

// NewWatchProgressStore creates a new PostgreSQL watch progress store.
func NewWatchProgressStore(pool *Pool) *WatchProgressStore {
	return &WatchProgressStore{pool: pool}
}

var _ storage.WatchProgressStore = (*WatchProgressStore)(nil)

// GetLastProcessed returns the last processed slot and signature.
func (s *WatchProgressStore) GetLastProcessed(ctx context.Context) (*storage.WatchProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT slot, signature
		FROM watch_progress
		WHERE id = 1
	`)

	var progress storage.WatchProgress
	if err := row.Scan(&progress.Slot, &progress.Signature); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watch progress: %w", err)
	}
	return &progress, nil
}

// SetLastProcessed saves the last processed slot and signature.
func (s *WatchProgressStore) SetLastProcessed(ctx context.Context, progress *storage.WatchProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO watch_progress (id, slot, signature, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE
		SET slot = EXCLUDED.slot,
		    signature = EXCLUDED.signature,
		    updated_at = NOW()
	`, progress.Slot, progress.Signature)
	if err != nil {
		return fmt.Errorf("set watch progress: %w", err)
	}
	return nil
}
