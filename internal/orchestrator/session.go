package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ephemeral-vault/internal/custody"
	"ephemeral-vault/internal/delegation"
	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/observability"
)

// OpenSessionRequest holds the parameters of a new delegated session.
type OpenSessionRequest struct {
	Owner         string
	ApprovedLimit uint64
	Duration      time.Duration // zero selects Config.SessionDuration
	Caller        Caller
}

// SessionInfo is a session with its vault and active delegation.
type SessionInfo struct {
	Session    *domain.Session
	Vault      *domain.Vault
	Delegation *domain.Delegation
}

// OpenSession issues an ephemeral identity, creates its vault and approves
// the identity as the vault's delegate. A session that fails to get its
// vault releases its issuance slot; one whose delegate approval fails is
// stored retired so its vault is cleaned up at expiry.
func (o *Orchestrator) OpenSession(ctx context.Context, req OpenSessionRequest) (*SessionInfo, error) {
	const op = "open_session"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	if req.Owner == "" {
		return nil, fmt.Errorf("owner required: %w", domain.ErrInvalidRequest)
	}
	duration := req.Duration
	if duration == 0 {
		duration = o.cfg.SessionDuration
	}

	var fp *string
	if req.Caller.UserAgent != "" {
		f := req.Caller.fingerprint()
		fp = &f
	}

	s, err := o.custodian.CreateSession(custody.SessionRequest{
		Owner:             req.Owner,
		Origin:            req.Caller.Origin,
		DeviceFingerprint: fp,
		Duration:          duration,
	})
	if err != nil {
		o.logger.Printf("%s for %s: %v", op, req.Owner, err)
		return nil, err
	}

	created, err := o.ledger.CreateVault(ctx, ledger.CreateVaultRequest{
		Owner:             req.Owner,
		Seed:              s.ID,
		ApprovedLimit:     req.ApprovedLimit,
		Duration:          duration,
		OriginAddress:     req.Caller.Origin,
		DeviceFingerprint: fp,
	})
	if err != nil {
		o.custodian.Release(s.ID)
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	s.VaultAddress = created.Vault.ID
	o.persistReceipt(ctx, nil, created)

	approved, err := o.ledger.ApproveDelegate(ctx, s.VaultAddress, req.Owner, s.EphemeralIdentity)
	if err != nil {
		// The retired session keeps the vault reachable by the reclaimer.
		o.custodian.Revoke(s)
		s.SyncBalances(created.Vault)
		o.saveSession(ctx, s)
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	observability.RecordLedgerOp(op, "ok")
	o.persistReceipt(ctx, s, approved)

	o.monitor.Track(s.VaultAddress, s.ID, 0)
	observability.RecordSessionIssued()
	o.updateGauges()
	o.logger.Printf("session %s opened: vault=%s owner=%s expires=%s",
		s.ID, s.VaultAddress, s.Owner, s.ExpiresAt.Format(time.RFC3339))

	return &SessionInfo{Session: s.Clone(), Vault: approved.Vault, Delegation: approved.Delegation}, nil
}

// RenewRequest asks for a fresh ephemeral identity on a session.
type RenewRequest struct {
	SessionID string
	Force     bool // renew even if the delegation is younger than DelegationMaxAge
	Caller    Caller
}

// RenewResult reports the delegation in force after RenewDelegation.
type RenewResult struct {
	Delegation *domain.Delegation
	Renewed    bool
}

// RenewDelegation rotates the session's ephemeral identity once its
// delegation is older than Config.DelegationMaxAge. The old delegation is
// revoked by the approval of the new one.
func (o *Orchestrator) RenewDelegation(ctx context.Context, req RenewRequest) (*RenewResult, error) {
	const op = "renew_delegation"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, true)
	if err != nil {
		return nil, err
	}

	if _, err := o.ledgerVault(ctx, s.VaultAddress); err != nil {
		return nil, err
	}
	current, err := o.ledger.ActiveDelegation(ctx, s.VaultAddress)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if current != nil && !req.Force && !delegation.NeedsRenewal(current, o.cfg.DelegationMaxAge, o.clock.Now()) {
		return &RenewResult{Delegation: current}, nil
	}

	pub, sealed, err := o.custodian.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	r, err := o.ledger.ApproveDelegate(ctx, s.VaultAddress, s.Owner, pub)
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	observability.RecordLedgerOp(op, "ok")

	if current != nil {
		revoked := current.Clone()
		at := r.Event.Timestamp
		revoked.RevokedAt = &at
		revoked.IsActive = false
		if err := o.delegations.Upsert(ctx, revoked); err != nil {
			o.persistFailure("delegation", revoked.ID, err)
		}
	}
	s.EphemeralIdentity = pub
	s.EncryptedSecret = sealed
	o.persistReceipt(ctx, s, r)
	o.logger.Printf("session %s: delegate rotated to %s", s.ID, pub)

	return &RenewResult{Delegation: r.Delegation, Renewed: true}, nil
}

// SessionRequest addresses an existing session.
type SessionRequest struct {
	SessionID string
	Caller    Caller
}

// ReturnResult reports funds handed back to the owner.
type ReturnResult struct {
	Returned uint64
	Vault    *domain.Vault
}

// RevokeSession revokes the session's delegation, returns the vault's
// available balance to the owner and deactivates the session. The vault
// stays open until expiry. Revoking again returns nothing and succeeds.
func (o *Orchestrator) RevokeSession(ctx context.Context, req SessionRequest) (*ReturnResult, error) {
	const op = "revoke"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, false)
	if err != nil {
		return nil, err
	}
	return o.revoke(ctx, op, s, domain.CleanupRevoked)
}

// revoke is shared by RevokeSession and the reclaimer. The caller holds
// the session lock.
func (o *Orchestrator) revoke(ctx context.Context, op string, s *domain.Session, reason domain.CleanupReason) (*ReturnResult, error) {
	wasActive := s.IsActive
	r, err := o.onLedger(ctx, s.VaultAddress, func() (*ledger.Receipt, error) {
		return o.ledger.RevokeAccess(ctx, s.VaultAddress, s.Owner)
	})
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	observability.RecordLedgerOp(op, "ok")
	o.persistReceipt(ctx, nil, r)

	if wasActive || r.Returned > 0 {
		o.recordReturn(ctx, s, r, reason)
	}
	o.retire(ctx, s, r.Vault)
	if wasActive {
		o.logger.Printf("session %s revoked (%s): returned %d to %s", s.ID, reason, r.Returned, s.Owner)
	}
	return &ReturnResult{Returned: r.Returned, Vault: r.Vault}, nil
}

// Status is a read-only view of a session.
type Status struct {
	Session         *domain.Session
	Vault           *domain.Vault
	Delegation      *domain.Delegation // nil when none is active
	NearExpiry      bool
	DelegationStale bool
	Tracked         bool
	LastActivityAt  time.Time
}

// SessionStatus returns the session with its vault and delegation state.
func (o *Orchestrator) SessionStatus(ctx context.Context, req SessionRequest) (*Status, error) {
	const op = "status"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	s, err := o.session(ctx, op, req.SessionID, req.Caller, false)
	if err != nil {
		return nil, err
	}

	v, err := o.ledger.Vault(ctx, s.VaultAddress)
	if errors.Is(err, domain.ErrNotFound) {
		v, err = o.vaults.GetByID(ctx, s.VaultAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", s.VaultAddress, err)
	}

	st := &Status{
		Session:        s,
		Vault:          v,
		NearExpiry:     s.IsActive && o.custodian.IsNearExpiry(s, o.cfg.NearExpiry),
		LastActivityAt: s.LastActivityAt,
	}
	if d, err := o.ledger.ActiveDelegation(ctx, s.VaultAddress); err == nil {
		st.Delegation = d
		st.DelegationStale = delegation.NeedsRenewal(d, o.cfg.DelegationMaxAge, o.clock.Now())
	}
	if tracked, ok := o.monitor.Get(s.VaultAddress); ok {
		st.Tracked = true
		st.LastActivityAt = tracked.LastActivityAt
	}
	return st, nil
}
