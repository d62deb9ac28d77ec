// Package ledger holds the authoritative vault state machine: creation,
// deposits, trade debits, revocation, expiry cleanup and close.
package ledger

import (
	"context"
	"time"

	"ephemeral-vault/internal/domain"
)

// MinAutoDeposit is the floor applied to ledger-side auto deposits (lamports).
const MinAutoDeposit = 5000

// CreateVaultRequest holds the parameters of a new vault.
type CreateVaultRequest struct {
	Owner             string
	Seed              string // distinguishes concurrent vaults of one owner
	ApprovedLimit     uint64
	Duration          time.Duration
	OriginAddress     string
	DeviceFingerprint *string
}

// Receipt is the result of a ledger operation.
type Receipt struct {
	Vault      *domain.Vault       // snapshot after the operation
	Delegation *domain.Delegation  // approved or revoked delegation, if any
	Event      *domain.LedgerEvent // nil when the call was a no-op
	Returned   uint64              // amount handed back to the owner
}

// Authority is the capability boundary of the host-controlled ledger.
// Every call either fully applies or fully fails.
type Authority interface {
	// CreateVault opens a vault with zero balances.
	// Returns ErrInvalidAmount, ErrInvalidDuration or ErrVaultExists.
	CreateVault(ctx context.Context, req CreateVaultRequest) (*Receipt, error)

	// ApproveDelegate grants delegate spending rights, replacing any active delegation.
	ApproveDelegate(ctx context.Context, vaultID, caller, delegate string) (*Receipt, error)

	// Deposit moves amount from the owner's wallet into the vault.
	Deposit(ctx context.Context, vaultID, depositor string, amount uint64) (*Receipt, error)

	// AutoDeposit deposits max(feeEstimate, MinAutoDeposit).
	AutoDeposit(ctx context.Context, vaultID, depositor string, feeEstimate uint64) (*Receipt, error)

	// ExecuteTrade moves amount+fee from available to used on behalf of the delegate.
	ExecuteTrade(ctx context.Context, vaultID, caller string, amount, fee uint64) (*Receipt, error)

	// RevokeAccess deactivates the delegation and returns the available balance.
	// The vault itself stays active. Repeating it is a successful no-op on balances.
	RevokeAccess(ctx context.Context, vaultID, caller string) (*Receipt, error)

	// CleanupVault returns all remaining funds once the vault has expired and
	// marks it terminal. Returns ErrSessionNotExpired before expiry; a cleaned
	// vault yields a receipt with Returned == 0 and no event.
	CleanupVault(ctx context.Context, vaultID string) (*Receipt, error)

	// CloseVault finalizes a cleaned vault. Returns ErrVaultNotCleaned otherwise.
	CloseVault(ctx context.Context, vaultID, caller string) (*Receipt, error)

	// Vault returns a snapshot of a vault. Returns ErrNotFound if not exists.
	Vault(ctx context.Context, vaultID string) (*domain.Vault, error)

	// ActiveDelegation returns the active delegation. Returns ErrNotFound if none.
	ActiveDelegation(ctx context.Context, vaultID string) (*domain.Delegation, error)

	// Restore re-registers a persisted vault and its active delegation, if
	// any, after a restart. seq is the last event sequence of the vault.
	// Returns ErrVaultExists if the vault is already known.
	Restore(ctx context.Context, v *domain.Vault, d *domain.Delegation, seq uint64) error
}
