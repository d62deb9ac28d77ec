package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/observability"
)

// CleanupResult reports a vault cleanup.
type CleanupResult struct {
	Returned       uint64
	Vault          *domain.Vault
	AlreadyCleaned bool
}

// CleanupVault returns all remaining funds of an expired session's vault
// and marks it terminal. Fails with ErrSessionNotExpired before expiry;
// cleaning again returns nothing.
func (o *Orchestrator) CleanupVault(ctx context.Context, req SessionRequest) (*CleanupResult, error) {
	const op = "cleanup"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, false)
	if err != nil {
		return nil, err
	}
	return o.cleanup(ctx, op, s, domain.CleanupManual)
}

// CloseVault finalizes a cleaned vault.
func (o *Orchestrator) CloseVault(ctx context.Context, req SessionRequest) (*domain.Vault, error) {
	const op = "close"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, false)
	if err != nil {
		return nil, err
	}
	r, err := o.onLedger(ctx, s.VaultAddress, func() (*ledger.Receipt, error) {
		return o.ledger.CloseVault(ctx, s.VaultAddress, s.Owner)
	})
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	observability.RecordLedgerOp(op, "ok")
	o.persistReceipt(ctx, nil, r)
	return r.Vault, nil
}

// cleanup is shared by CleanupVault and the reclaimer. The caller holds
// the session lock.
func (o *Orchestrator) cleanup(ctx context.Context, op string, s *domain.Session, reason domain.CleanupReason) (*CleanupResult, error) {
	r, err := o.onLedger(ctx, s.VaultAddress, func() (*ledger.Receipt, error) {
		return o.ledger.CleanupVault(ctx, s.VaultAddress)
	})
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	observability.RecordLedgerOp(op, "ok")

	res := &CleanupResult{Returned: r.Returned, Vault: r.Vault, AlreadyCleaned: r.Event == nil}
	if r.Event != nil {
		o.persistReceipt(ctx, nil, r)
		o.recordReturn(ctx, s, r, reason)
		o.logger.Printf("vault %s cleaned (%s): returned %d to %s", r.Vault.ID, reason, r.Returned, s.Owner)
	}
	if s.IsActive || o.monitor.IsTracked(s.VaultAddress) {
		o.retire(ctx, s, r.Vault)
	}
	return res, nil
}

// ReclaimResult summarizes one reclaim pass.
type ReclaimResult struct {
	Expired   int
	Abandoned int
	Returned  uint64
	Errors    []string
}

// Reclaim cleans up every expired vault and revokes delegations on
// tracked vaults idle for longer than Config.InactivityTimeout.
// Per-vault failures are collected, not returned.
func (o *Orchestrator) Reclaim(ctx context.Context) (*ReclaimResult, error) {
	res := &ReclaimResult{}

	expired, err := o.vaults.ListExpired(ctx, o.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list expired vaults: %w", err)
	}
	for _, v := range expired {
		returned, err := o.reclaimVault(ctx, v.ID, func(s *domain.Session) (uint64, error) {
			r, err := o.cleanup(ctx, "reclaim_expired", s, domain.CleanupExpired)
			if err != nil {
				return 0, err
			}
			return r.Returned, nil
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("cleanup %s: %v", v.ID, err))
			continue
		}
		res.Expired++
		res.Returned += returned
	}

	for _, addr := range o.monitor.DetectAbandoned(o.cfg.InactivityTimeout) {
		returned, err := o.reclaimVault(ctx, addr, func(s *domain.Session) (uint64, error) {
			r, err := o.revoke(ctx, "reclaim_abandoned", s, domain.CleanupAbandonedFunds)
			if err != nil {
				return 0, err
			}
			return r.Returned, nil
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("revoke %s: %v", addr, err))
			// Stop watching vaults that can no longer be revoked.
			if errors.Is(err, domain.ErrVaultInactive) || errors.Is(err, domain.ErrNotFound) {
				o.monitor.Untrack(addr)
			}
			continue
		}
		res.Abandoned++
		res.Returned += returned
	}
	return res, nil
}

// reclaimVault runs fn on the latest session of a vault under its lock.
func (o *Orchestrator) reclaimVault(ctx context.Context, vaultID string, fn func(*domain.Session) (uint64, error)) (uint64, error) {
	s, err := o.sessions.GetByVault(ctx, vaultID)
	if err != nil {
		return 0, err
	}
	unlock := o.locks.Lock(s.ID)
	defer unlock()

	// Reload under the lock.
	s, err = o.sessions.GetByID(ctx, s.ID)
	if err != nil {
		return 0, err
	}
	return fn(s)
}

// RunReclaimer runs Reclaim every interval until ctx is cancelled.
func (o *Orchestrator) RunReclaimer(ctx context.Context, interval time.Duration) error {
	logger := log.New(o.logger.Writer(), "[reclaim] ", o.logger.Flags())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := o.Reclaim(ctx)
			if err != nil {
				observability.RecordReclaimRun("error")
				logger.Printf("pass failed: %v", err)
				continue
			}
			observability.RecordReclaimRun("ok")
			if res.Expired > 0 || res.Abandoned > 0 || len(res.Errors) > 0 {
				logger.Printf("expired=%d abandoned=%d returned=%d errors=%d",
					res.Expired, res.Abandoned, res.Returned, len(res.Errors))
			}
			for _, e := range res.Errors {
				logger.Print(e)
			}
		}
	}
}
