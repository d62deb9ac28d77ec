package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/observability"
)

// RestoreResult summarizes a Restore pass.
type RestoreResult struct {
	Vaults   int // vaults loaded into the ledger
	Sessions int // live sessions re-registered and monitored
	Errors   []string
}

// Restore loads every active vault from the store into the ledger with its
// active delegation and last event sequence, re-registers the live session
// of each vault with the custodian and resumes monitoring it. Vaults the
// ledger already knows are left alone. Run it once at startup before
// serving requests. Per-vault failures are collected, not returned.
func (o *Orchestrator) Restore(ctx context.Context) (*RestoreResult, error) {
	vaults, err := o.vaults.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active vaults: %w", err)
	}

	res := &RestoreResult{}
	now := o.clock.Now()
	for _, v := range vaults {
		adopted, err := o.adopt(ctx, v)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("restore %s: %v", v.ID, err))
			continue
		}
		if adopted {
			res.Vaults++
		}

		s, err := o.sessions.GetByVault(ctx, v.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("session of %s: %v", v.ID, err))
			continue
		}
		if !s.IsActive || !s.ExpiresAt.After(now) {
			continue
		}
		o.custodian.Restore(s)
		if !o.monitor.IsTracked(v.ID) {
			o.monitor.Track(v.ID, s.ID, v.AvailableAmount)
		}
		res.Sessions++
	}
	o.updateGauges()
	return res, nil
}

// adopt loads a stored vault into the ledger. It reports false when the
// ledger already knows the vault.
func (o *Orchestrator) adopt(ctx context.Context, v *domain.Vault) (bool, error) {
	if _, err := o.ledger.Vault(ctx, v.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	history, err := o.delegations.ListByVault(ctx, v.ID)
	if err != nil {
		return false, fmt.Errorf("delegations of %s: %w", v.ID, err)
	}
	var active *domain.Delegation
	for _, d := range history {
		if d.IsActive {
			active = d
		}
	}

	events, err := o.events.GetByVault(ctx, v.ID)
	if err != nil {
		return false, fmt.Errorf("events of %s: %w", v.ID, err)
	}
	var seq uint64
	if n := len(events); n > 0 {
		seq = events[n-1].Sequence
	}

	if err := o.ledger.Restore(ctx, v, active, seq); err != nil {
		if errors.Is(err, domain.ErrVaultExists) {
			return false, nil
		}
		observability.RecordLedgerOp("restore", domain.Kind(err))
		return false, err
	}
	observability.RecordLedgerOp("restore", "ok")
	o.logger.Printf("vault %s restored: available=%d seq=%d", v.ID, v.AvailableAmount, seq)
	return true, nil
}

// onLedger runs fn and, when the ledger does not know vaultID, loads the
// vault from the store and runs fn once more.
func (o *Orchestrator) onLedger(ctx context.Context, vaultID string, fn func() (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	r, err := fn()
	if !errors.Is(err, domain.ErrNotFound) {
		return r, err
	}
	v, getErr := o.vaults.GetByID(ctx, vaultID)
	if getErr != nil {
		return nil, err
	}
	if _, adoptErr := o.adopt(ctx, v); adoptErr != nil {
		return nil, fmt.Errorf("restore vault %s: %w", vaultID, adoptErr)
	}
	return fn()
}

// ledgerVault returns the ledger's view of a vault, loading it from the
// store first when the ledger does not know it.
func (o *Orchestrator) ledgerVault(ctx context.Context, vaultID string) (*domain.Vault, error) {
	v, err := o.ledger.Vault(ctx, vaultID)
	if !errors.Is(err, domain.ErrNotFound) {
		return v, err
	}
	stored, getErr := o.vaults.GetByID(ctx, vaultID)
	if getErr != nil {
		return nil, err
	}
	if _, adoptErr := o.adopt(ctx, stored); adoptErr != nil {
		return nil, fmt.Errorf("restore vault %s: %w", vaultID, adoptErr)
	}
	return o.ledger.Vault(ctx, vaultID)
}
