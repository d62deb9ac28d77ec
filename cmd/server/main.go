// Package main runs the vault service: the HTTP API, the reclaimer, the
// security janitor and, when chain endpoints are configured, the program
// log watcher.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"ephemeral-vault/internal/api"
	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/config"
	"ephemeral-vault/internal/custody"
	"ephemeral-vault/internal/delegation"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/monitor"
	"ephemeral-vault/internal/orchestrator"
	"ephemeral-vault/internal/security"
	"ephemeral-vault/internal/solana"
	"ephemeral-vault/internal/topup"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores, err := createStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer closeStores()

	var rpc *solana.HTTPClient
	if cfg.Solana.RPCURL != "" {
		rpc = solana.NewHTTPClient(cfg.Solana.RPCURL)
	}

	orch, err := buildOrchestrator(cfg, stores, rpc, logger)
	if err != nil {
		logger.Fatalf("Failed to build orchestrator: %v", err)
	}

	restored, err := orch.Restore(ctx)
	if err != nil {
		logger.Fatalf("Failed to restore vaults: %v", err)
	}
	logger.Printf("Restored %d vaults, %d live sessions", restored.Vaults, restored.Sessions)
	for _, e := range restored.Errors {
		logger.Print(e)
	}

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, orch, stores, rpc, logger)
	close(done)
	if err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// buildOrchestrator assembles the vault components around the ledger.
func buildOrchestrator(cfg *config.Config, stores *allStores, rpc *solana.HTTPClient, logger *log.Logger) (*orchestrator.Orchestrator, error) {
	clk := clock.Real()
	flags := logger.Flags()

	// Without an RPC endpoint owner balances cannot be checked and every
	// debit is accepted.
	var funds *ledger.ChainFunds
	var balances orchestrator.BalanceChecker
	if rpc != nil {
		funds = ledger.NewChainFunds(rpc)
		balances = rpc
	} else {
		funds = ledger.NewChainFunds(nil)
		logger.Println("No RPC endpoint configured: owner balances are not checked")
	}

	l, err := ledger.New(ledger.Options{
		ProgramID:   cfg.Solana.ProgramID,
		Clock:       clk,
		Funds:       funds,
		Delegations: delegation.NewAuthority(clk),
	})
	if err != nil {
		return nil, err
	}

	custodian, err := custody.NewCustodian(custody.Options{
		MasterSecret: cfg.Custody.MasterSecret,
		Cipher:       cfg.Custody.Cipher,
		MaxSessions:  cfg.Vault.MaxConcurrentSessions,
		Clock:        clk,
	})
	if err != nil {
		return nil, err
	}

	guard := security.NewGuard(security.Options{
		Clock:              clk,
		RateLimitPerMinute: cfg.Vault.RateLimitPerMinute,
		AnomalyThreshold:   cfg.Vault.AnomalyDetectionThreshold,
		Logger:             log.New(os.Stdout, "[security] ", flags),
	})

	return orchestrator.New(orchestrator.Options{
		Ledger:       l,
		Custodian:    custodian,
		Guard:        guard,
		Planner:      topup.NewPlanner(cfg.Vault.BaseFee, cfg.Vault.SizeFeeRate),
		Monitor:      monitor.New(clk),
		Sessions:     stores.sessions,
		Vaults:       stores.vaults,
		Delegations:  stores.delegations,
		Transactions: stores.transactions,
		Cleanups:     stores.cleanups,
		Events:       stores.events,
		Balances:     balances,
		Config: orchestrator.Config{
			SessionDuration:   cfg.Vault.SessionDuration(),
			InactivityTimeout: cfg.Vault.InactivityTimeout(),
			MinDeposit:        cfg.Vault.MinDepositAmount,
			MaxDeposit:        cfg.Vault.MaxDepositAmount,
			DelegationMaxAge:  cfg.Vault.DelegationMaxAge(),
			NearExpiry:        cfg.Vault.NearExpiry(),
		},
		Clock:  clk,
		Logger: log.New(os.Stdout, "[vault] ", flags),
	})
}

// run starts every background loop and the HTTP server and blocks until
// ctx is cancelled or the listener fails.
func run(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, stores *allStores, rpc *solana.HTTPClient, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("%s stopped: %v", name, err)
			}
		}()
	}

	background("reclaimer", func(ctx context.Context) error {
		return orch.RunReclaimer(ctx, cfg.Vault.ReclaimInterval())
	})
	background("janitor", func(ctx context.Context) error {
		return orch.Guard().RunJanitor(ctx, time.Minute, cfg.Vault.SecurityIdle())
	})
	if rpc != nil && cfg.Solana.WSURL != "" {
		background("watcher", func(ctx context.Context) error {
			return runWatcher(ctx, cfg, orch.Monitor(), stores, rpc)
		})
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.New(api.Options{
			Orchestrator: orch,
			Logger:       log.New(os.Stdout, "[api] ", logger.Flags()),
			StartedAt:    time.Now(),
		}).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	wg.Wait()
	return serveErr
}

// runWatcher backfills recent program activity and then follows live logs.
func runWatcher(ctx context.Context, cfg *config.Config, m *monitor.Monitor, stores *allStores, rpc *solana.HTTPClient) error {
	logger := log.New(os.Stdout, "[watcher] ", log.LstdFlags)

	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &solana.WSClientConfig{
		Logger: log.New(os.Stdout, "[ws] ", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	defer ws.Close()

	w := monitor.NewWatcher(monitor.WatcherOptions{
		WS:        ws,
		RPC:       rpc,
		Monitor:   m,
		ProgramID: cfg.Solana.ProgramID,
		Progress:  stores.progress,
		Logger:    logger,
	})
	if cfg.Solana.BackfillLimit > 0 {
		n, err := w.Backfill(ctx, cfg.Solana.BackfillLimit)
		if err != nil {
			logger.Printf("backfill: %v", err)
		} else {
			logger.Printf("backfilled %d transactions", n)
		}
	}
	return w.Run(ctx)
}
