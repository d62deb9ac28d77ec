package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/config"
	"ephemeral-vault/internal/idhash"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/security"
)

func TestRun_Commands(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(nil, &out))
	assert.Contains(t, out.String(), "usage: vaultctl")

	assert.Error(t, run([]string{"bogus"}, &out))
	assert.NoError(t, run([]string{"help"}, &out))
}

func TestDerive(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"derive", "--owner", "owner-wallet"}, &out))

	addr, _, err := idhash.DeriveVaultAddress(config.DefaultProgramID, "owner-wallet")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "address: "+addr)

	out.Reset()
	require.NoError(t, run([]string{"derive", "--owner", "owner-wallet", "--seed", "session-1"}, &out))
	l, err := ledger.New(ledger.Options{ProgramID: config.DefaultProgramID, Funds: ledger.NewWalletBook()})
	require.NoError(t, err)
	created, err := l.CreateVault(context.Background(), ledger.CreateVaultRequest{
		Owner: "owner-wallet", Seed: "session-1", ApprovedLimit: 1000, Duration: time.Hour,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "address: "+created.Vault.ID)
	assert.NotEqual(t, addr, created.Vault.ID)

	assert.Error(t, run([]string{"derive"}, &out))
	assert.Error(t, run([]string{"derive", "--owner", "x", "--program-id", "short"}, &out))
}

func TestFingerprint(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"fingerprint", "--user-agent", "ua/1", "--origin", "10.0.0.1"}, &out))
	assert.Equal(t, security.Fingerprint("ua/1", "10.0.0.1")+"\n", out.String())

	assert.Error(t, run([]string{"fingerprint", "--origin", "10.0.0.1"}, &out))
}

func TestPlan(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"plan", "--balance", "10000", "--pending-ops", "2", "--trade-size", "2000000"}, &out))
	s := out.String()
	assert.Contains(t, s, "top-up:       20000 lamports")
	assert.Contains(t, s, "trade fee:    5200 lamports")
	assert.Contains(t, s, "auto-deposit: 7800 lamports")

	out.Reset()
	require.NoError(t, run([]string{"plan", "--balance", "20000", "--pending-ops", "2"}, &out))
	assert.Contains(t, out.String(), "not needed")
	assert.NotContains(t, out.String(), "trade fee")
}

func TestMigrate_RequiresDSNs(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CLICKHOUSE_DSN", "")
	t.Setenv("VAULT_CONFIG", "")

	var out bytes.Buffer
	err := run([]string{"migrate"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}
