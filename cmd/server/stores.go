package main

import (
	"context"
	"fmt"
	"log"

	"ephemeral-vault/internal/config"
	"ephemeral-vault/internal/storage"
	chstore "ephemeral-vault/internal/storage/clickhouse"
	"ephemeral-vault/internal/storage/memory"
	"ephemeral-vault/internal/storage/migrations"
	pgstore "ephemeral-vault/internal/storage/postgres"
)

// allStores holds all storage implementations.
type allStores struct {
	sessions     storage.SessionStore
	vaults       storage.VaultStore
	delegations  storage.DelegationStore
	transactions storage.TransactionStore
	cleanups     storage.CleanupStore
	events       storage.LedgerEventStore
	progress     storage.WatchProgressStore
}

// createStores creates all required stores. Non-memory backends are
// migrated before use.
func createStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &allStores{
			sessions:     memory.NewSessionStore(),
			vaults:       memory.NewVaultStore(),
			delegations:  memory.NewDelegationStore(),
			transactions: memory.NewTransactionStore(),
			cleanups:     memory.NewCleanupStore(),
			events:       memory.NewLedgerEventStore(),
			progress:     memory.NewWatchProgressStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL holds the session and vault records.
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Printf("Applied postgres migrations: %v", applied)
	}

	// ClickHouse holds the append-only ledger event log.
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		sessions:     pgstore.NewSessionStore(pool),
		vaults:       pgstore.NewVaultStore(pool),
		delegations:  pgstore.NewDelegationStore(pool),
		transactions: pgstore.NewTransactionStore(pool),
		cleanups:     pgstore.NewCleanupStore(pool),
		events:       chstore.NewLedgerEventStore(chConn),
		progress:     pgstore.NewWatchProgressStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}
