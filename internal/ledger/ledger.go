package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/delegation"
	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/idhash"
	"ephemeral-vault/internal/keyed"
)

// Options configures a Ledger.
type Options struct {
	ProgramID   string // base58, 32 bytes
	Clock       clock.Clock
	Funds       Funds
	Delegations *delegation.Authority
}

// Ledger is the in-process reference Authority.
// Mutations on one vault are serialized by a per-vault lock; different
// vaults proceed independently.
type Ledger struct {
	programID   string
	clock       clock.Clock
	funds       Funds
	delegations *delegation.Authority

	locks *keyed.Mutex

	mu     sync.RWMutex
	vaults map[string]*vaultState
}

type vaultState struct {
	vault *domain.Vault
	seq   uint64
}

// New creates a Ledger.
func New(opts Options) (*Ledger, error) {
	raw, err := base58.Decode(opts.ProgramID)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("program id %q must be a base58 32-byte key", opts.ProgramID)
	}
	if opts.Funds == nil {
		return nil, errors.New("funds required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Delegations == nil {
		opts.Delegations = delegation.NewAuthority(opts.Clock)
	}
	return &Ledger{
		programID:   opts.ProgramID,
		clock:       opts.Clock,
		funds:       opts.Funds,
		delegations: opts.Delegations,
		locks:       keyed.New(),
		vaults:      make(map[string]*vaultState),
	}, nil
}

// Delegations returns the delegation authority the ledger consults.
func (l *Ledger) Delegations() *delegation.Authority {
	return l.delegations
}

// CreateVault implements Authority.
func (l *Ledger) CreateVault(_ context.Context, req CreateVaultRequest) (*Receipt, error) {
	if req.ApprovedLimit == 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.Duration <= 0 {
		return nil, domain.ErrInvalidDuration
	}

	purpose := idhash.PurposeVault
	if req.Seed != "" {
		purpose += ":" + req.Seed
	}
	addr, bump, err := idhash.DeriveAddress(l.programID, req.Owner, purpose)
	if err != nil {
		return nil, fmt.Errorf("derive vault address: %w", err)
	}

	unlock := l.locks.Lock(addr)
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	var seq uint64
	if existing, ok := l.vaults[addr]; ok {
		if existing.vault.Status != domain.VaultStatusClosed {
			return nil, fmt.Errorf("vault %s: %w", addr, domain.ErrVaultExists)
		}
		seq = existing.seq
	}

	now := l.clock.Now()
	v := &domain.Vault{
		ID:             addr,
		Bump:           bump,
		Owner:          req.Owner,
		CreatedAt:      now,
		ExpiresAt:      now.Add(req.Duration),
		LastActivityAt: now,
		ApprovedLimit:  req.ApprovedLimit,
		IsActive:       true,
		Status:         domain.VaultStatusActive,
		OriginAddress:  req.OriginAddress,
	}
	if req.DeviceFingerprint != nil {
		fp := *req.DeviceFingerprint
		v.DeviceFingerprint = &fp
	}
	st := &vaultState{vault: v, seq: seq}
	l.vaults[addr] = st

	ev := st.emit(domain.EventVaultCreated, now, req.ApprovedLimit, 0, 0)
	return &Receipt{Vault: v.Clone(), Event: ev}, nil
}

// ApproveDelegate implements Authority.
func (l *Ledger) ApproveDelegate(_ context.Context, vaultID, caller, delegate string) (*Receipt, error) {
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if caller != v.Owner {
			return nil, domain.ErrUnauthorized
		}
		d, err := l.delegations.Approve(v, delegate)
		if err != nil {
			return nil, err
		}
		v.EphemeralIdentity = delegate
		v.LastActivityAt = now

		ev := st.emit(domain.EventDelegateApproved, now, 0, 0, 0)
		return &Receipt{Vault: v.Clone(), Delegation: d, Event: ev}, nil
	})
}

// Deposit implements Authority.
func (l *Ledger) Deposit(ctx context.Context, vaultID, depositor string, amount uint64) (*Receipt, error) {
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if err := checkLive(v, now); err != nil {
			return nil, err
		}
		if depositor != v.Owner {
			return nil, domain.ErrUnauthorized
		}
		total, c1 := bits.Add64(v.TotalDeposited, amount, 0)
		available, c2 := bits.Add64(v.AvailableAmount, amount, 0)
		if c1|c2 != 0 {
			return nil, domain.ErrOverflow
		}
		if err := l.funds.Debit(ctx, v.Owner, amount); err != nil {
			return nil, err
		}

		v.TotalDeposited = total
		v.AvailableAmount = available
		v.LastActivityAt = now

		ev := st.emit(domain.EventDeposit, now, amount, 0, 0)
		return &Receipt{Vault: v.Clone(), Event: ev}, nil
	})
}

// AutoDeposit implements Authority.
func (l *Ledger) AutoDeposit(ctx context.Context, vaultID, depositor string, feeEstimate uint64) (*Receipt, error) {
	return l.Deposit(ctx, vaultID, depositor, max(feeEstimate, MinAutoDeposit))
}

// ExecuteTrade implements Authority.
func (l *Ledger) ExecuteTrade(_ context.Context, vaultID, caller string, amount, fee uint64) (*Receipt, error) {
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if err := checkLive(v, now); err != nil {
			return nil, err
		}
		d, ok := l.delegations.Active(vaultID)
		if !ok {
			return nil, domain.ErrDelegationNotActive
		}
		if d.DelegateIdentity != caller {
			return nil, domain.ErrInvalidDelegate
		}

		cost, carry := bits.Add64(amount, fee, 0)
		if carry != 0 {
			return nil, domain.ErrOverflow
		}
		if cost == 0 {
			return nil, domain.ErrInvalidAmount
		}
		if v.AvailableAmount < cost {
			return nil, domain.ErrInsufficientBalance
		}
		used, carry := bits.Add64(v.UsedAmount, cost, 0)
		if carry != 0 {
			return nil, domain.ErrOverflow
		}
		if used > v.ApprovedLimit {
			return nil, domain.ErrApprovedLimitExceeded
		}

		v.AvailableAmount -= cost
		v.UsedAmount = used
		v.LastActivityAt = now

		ev := st.emit(domain.EventTradeExecuted, now, amount, fee, 0)
		ev.Delegate = caller
		return &Receipt{Vault: v.Clone(), Delegation: d, Event: ev}, nil
	})
}

// RevokeAccess implements Authority.
func (l *Ledger) RevokeAccess(ctx context.Context, vaultID, caller string) (*Receipt, error) {
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if !v.IsActive {
			return nil, domain.ErrVaultInactive
		}
		if caller != v.Owner {
			return nil, domain.ErrUnauthorized
		}

		returned := v.AvailableAmount
		if returned > 0 {
			if err := l.funds.Credit(ctx, v.Owner, returned); err != nil {
				return nil, err
			}
		}

		d, _ := l.delegations.Revoke(vaultID)
		delegate := v.EphemeralIdentity
		v.AvailableAmount = 0
		v.TotalDeposited -= returned
		v.TotalReturned += returned
		v.EphemeralIdentity = ""
		v.LastActivityAt = now

		ev := st.emit(domain.EventAccessRevoked, now, 0, 0, returned)
		ev.Delegate = delegate
		return &Receipt{Vault: v.Clone(), Delegation: d, Event: ev, Returned: returned}, nil
	})
}

// CleanupVault implements Authority.
func (l *Ledger) CleanupVault(ctx context.Context, vaultID string) (*Receipt, error) {
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if now.Before(v.ExpiresAt) {
			return nil, domain.ErrSessionNotExpired
		}
		if v.Status.IsTerminal() {
			return &Receipt{Vault: v.Clone()}, nil
		}

		returned := v.AvailableAmount
		if returned > 0 {
			if err := l.funds.Credit(ctx, v.Owner, returned); err != nil {
				return nil, err
			}
		}

		d, _ := l.delegations.Revoke(vaultID)
		v.AvailableAmount = 0
		v.UsedAmount = 0
		v.TotalDeposited = 0
		v.TotalReturned += returned
		v.IsActive = false
		v.Status = domain.VaultStatusCleaned
		v.EphemeralIdentity = ""

		ev := st.emit(domain.EventVaultCleaned, now, 0, 0, returned)
		return &Receipt{Vault: v.Clone(), Delegation: d, Event: ev, Returned: returned}, nil
	})
}

// CloseVault implements Authority.
func (l *Ledger) CloseVault(_ context.Context, vaultID, caller string) (*Receipt, error) {
	return l.withVault(vaultID, func(st *vaultState, now time.Time) (*Receipt, error) {
		v := st.vault
		if caller != v.Owner {
			return nil, domain.ErrUnauthorized
		}
		switch v.Status {
		case domain.VaultStatusCleaned:
		case domain.VaultStatusClosed:
			return nil, domain.ErrVaultInactive
		default:
			return nil, domain.ErrVaultNotCleaned
		}
		v.Status = domain.VaultStatusClosed

		ev := st.emit(domain.EventVaultClosed, now, 0, 0, 0)
		return &Receipt{Vault: v.Clone(), Event: ev}, nil
	})
}

// Vault implements Authority.
func (l *Ledger) Vault(_ context.Context, vaultID string) (*domain.Vault, error) {
	unlock := l.locks.Lock(vaultID)
	defer unlock()
	st, err := l.state(vaultID)
	if err != nil {
		return nil, err
	}
	return st.vault.Clone(), nil
}

// ActiveDelegation implements Authority.
func (l *Ledger) ActiveDelegation(_ context.Context, vaultID string) (*domain.Delegation, error) {
	if _, err := l.state(vaultID); err != nil {
		return nil, err
	}
	d, ok := l.delegations.Active(vaultID)
	if !ok {
		return nil, fmt.Errorf("active delegation of %s: %w", vaultID, domain.ErrNotFound)
	}
	return d, nil
}

// Restore implements Authority.
func (l *Ledger) Restore(_ context.Context, v *domain.Vault, d *domain.Delegation, seq uint64) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("restore vault: %w", domain.ErrInvalidRequest)
	}
	unlock := l.locks.Lock(v.ID)
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.vaults[v.ID]; ok {
		return fmt.Errorf("vault %s: %w", v.ID, domain.ErrVaultExists)
	}
	if d != nil && d.IsActive {
		if d.VaultID != v.ID {
			return fmt.Errorf("vault %s: delegation of %s: %w", v.ID, d.VaultID, domain.ErrInvalidDelegate)
		}
		if err := l.delegations.Restore(d); err != nil {
			return fmt.Errorf("vault %s: %w", v.ID, err)
		}
	}
	l.vaults[v.ID] = &vaultState{vault: v.Clone(), seq: seq}
	return nil
}

// withVault runs fn under the vault's lock. fn must leave the vault
// untouched when it returns an error.
func (l *Ledger) withVault(vaultID string, fn func(*vaultState, time.Time) (*Receipt, error)) (*Receipt, error) {
	unlock := l.locks.Lock(vaultID)
	defer unlock()

	st, err := l.state(vaultID)
	if err != nil {
		return nil, err
	}
	r, err := fn(st, l.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", vaultID, err)
	}
	return r, nil
}

func (l *Ledger) state(vaultID string) (*vaultState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st, ok := l.vaults[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault %s: %w", vaultID, domain.ErrNotFound)
	}
	return st, nil
}

func checkLive(v *domain.Vault, now time.Time) error {
	if !v.IsActive {
		return domain.ErrVaultInactive
	}
	if v.Expired(now) {
		return domain.ErrSessionExpired
	}
	return nil
}

func (st *vaultState) emit(kind domain.EventKind, now time.Time, amount, fee, returned uint64) *domain.LedgerEvent {
	st.seq++
	v := st.vault
	return &domain.LedgerEvent{
		EventID:         idhash.ComputeEventID(v.ID, kind, st.seq),
		Sequence:        st.seq,
		Kind:            kind,
		VaultID:         v.ID,
		Owner:           v.Owner,
		Delegate:        v.EphemeralIdentity,
		Amount:          amount,
		Fee:             fee,
		Returned:        returned,
		AvailableAmount: v.AvailableAmount,
		UsedAmount:      v.UsedAmount,
		TotalDeposited:  v.TotalDeposited,
		Timestamp:       now,
	}
}

var _ Authority = (*Ledger)(nil)
