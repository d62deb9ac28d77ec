// Package main provides vaultctl, an operator tool for the vault service.
//
// Usage:
//
//	vaultctl derive --owner <pubkey> --seed <session id> [--program-id <id>] [--purpose vault]
//	vaultctl fingerprint --user-agent <ua> --origin <addr>
//	vaultctl plan --balance <lamports> --pending-ops <n> [--trade-size <lamports>] [--priority 1]
//	vaultctl migrate [server flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"ephemeral-vault/internal/config"
	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/idhash"
	"ephemeral-vault/internal/security"
	"ephemeral-vault/internal/storage/migrations"
	pgstore "ephemeral-vault/internal/storage/postgres"
	"ephemeral-vault/internal/topup"
)

const usage = `usage: vaultctl <command> [flags]

commands:
  derive       derive the vault address of an owner's session (--seed <session id>)
  fingerprint  compute a device fingerprint
  plan         size a top-up and estimate trade fees
  migrate      apply database migrations
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("command required")
	}
	switch args[0] {
	case "derive":
		return derive(args[1:], out)
	case "fingerprint":
		return fingerprint(args[1:], out)
	case "plan":
		return plan(args[1:], out)
	case "migrate":
		return migrate(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func derive(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("derive", pflag.ContinueOnError)
	owner := fs.String("owner", "", "owner wallet (base58 public key)")
	programID := fs.String("program-id", config.DefaultProgramID, "vault program id")
	purpose := fs.String("purpose", idhash.PurposeVault, "address seed purpose")
	seed := fs.String("seed", "", "session id; the server derives vault addresses from <purpose>:<session id>")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := *purpose
	if *seed != "" {
		p += ":" + *seed
	}
	addr, bump, err := idhash.DeriveAddress(*programID, *owner, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "address: %s\nbump:    %d\n", addr, bump)
	return nil
}

func fingerprint(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("fingerprint", pflag.ContinueOnError)
	userAgent := fs.String("user-agent", "", "client user agent")
	origin := fs.String("origin", "", "client network address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userAgent == "" || *origin == "" {
		return errors.New("--user-agent and --origin are required")
	}
	fmt.Fprintln(out, security.Fingerprint(*userAgent, *origin))
	return nil
}

func plan(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("plan", pflag.ContinueOnError)
	balance := fs.Uint64("balance", 0, "available vault balance in lamports")
	pendingOps := fs.Uint64("pending-ops", 1, "operations expected before the next top-up")
	tradeSize := fs.Uint64("trade-size", 0, "trade size in lamports for fee estimation")
	priority := fs.Int("priority", topup.PriorityNormal, "priority level (1 normal, 2 high, 3 urgent)")
	baseFee := fs.Uint64("base-fee", topup.DefaultBaseFee, "base fee in lamports")
	sizeFeeRate := fs.Uint64("size-fee-rate", topup.DefaultSizeFeeRate, "fee per million lamports traded")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p := topup.NewPlanner(*baseFee, *sizeFeeRate)
	fmt.Fprintf(out, "balance:      %s SOL\n", domain.FormatSOL(*balance))
	if p.ShouldTopUp(*balance, *pendingOps) {
		amount := p.OptimalTopUp(*balance, *pendingOps)
		fmt.Fprintf(out, "top-up:       %d lamports (%s SOL)\n", amount, domain.FormatSOL(amount))
	} else {
		fmt.Fprintln(out, "top-up:       not needed")
	}

	if *tradeSize > 0 {
		fee := topup.PriorityFee(p.EstimateTradeFee(*tradeSize), *priority)
		deposit, err := topup.DepositForFee(fee)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "trade fee:    %d lamports\n", fee)
		fmt.Fprintf(out, "auto-deposit: %d lamports\n", deposit)
	}
	return nil
}

// migrate applies the Postgres and ClickHouse migrations using the same
// configuration sources as the server.
func migrate(args []string, out io.Writer) error {
	cfg, err := config.Load(args, os.Getenv)
	if err != nil {
		return err
	}
	if cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickhouseDSN == "" {
		return errors.New("--postgres-dsn and --clickhouse-dsn are required")
	}

	logger := log.New(out, "[migrate] ", log.LstdFlags)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	logger.Printf("postgres: %d migrations applied %v", len(applied), applied)

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	defer conn.Close()
	logger.Println("clickhouse: schema up to date")
	return nil
}
