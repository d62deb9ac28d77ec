package orchestrator

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/mr-tron/base58"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/observability"
	"ephemeral-vault/internal/topup"
)

// DepositRequest moves owner funds into a session's vault.
type DepositRequest struct {
	SessionID string
	Amount    uint64
	Caller    Caller
}

// Deposit credits the session's vault from the owner's wallet.
// The amount must lie within [MinDeposit, MaxDeposit] and pass anomaly
// screening for the owner.
func (o *Orchestrator) Deposit(ctx context.Context, req DepositRequest) (*ledger.Receipt, error) {
	const op = "deposit"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	if err := o.checkDepositBounds(req.Amount); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, true)
	if err != nil {
		return nil, err
	}
	if err := o.screen(op, s.Owner, req.Amount); err != nil {
		return nil, err
	}
	return o.deposit(ctx, op, s, req.Amount, o.ledger.Deposit)
}

// AutoDepositRequest funds a vault for an expected fee.
type AutoDepositRequest struct {
	SessionID   string
	FeeEstimate uint64
	Caller      Caller
}

// AutoDeposit deposits the fee estimate plus a 150% buffer, never less
// than ledger.MinAutoDeposit.
func (o *Orchestrator) AutoDeposit(ctx context.Context, req AutoDepositRequest) (*ledger.Receipt, error) {
	const op = "auto_deposit"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	amount, err := topup.DepositForFee(req.FeeEstimate)
	if err != nil {
		return nil, err
	}
	amount = max(amount, ledger.MinAutoDeposit)
	if amount > o.cfg.MaxDeposit {
		return nil, fmt.Errorf("auto deposit %d above %d: %w", amount, o.cfg.MaxDeposit, domain.ErrInvalidAmount)
	}

	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, true)
	if err != nil {
		return nil, err
	}
	return o.deposit(ctx, op, s, amount, o.ledger.AutoDeposit)
}

// TopUpRequest asks the planner whether a vault covers pending operations.
type TopUpRequest struct {
	SessionID  string
	PendingOps uint64
	Caller     Caller
}

// TopUpResult reports the planner's decision and the resulting vault.
type TopUpResult struct {
	Needed  bool
	Amount  uint64
	Receipt *ledger.Receipt // nil when no top-up was needed
	Vault   *domain.Vault
}

// TopUp deposits the planner's optimal amount when the vault's available
// balance cannot cover PendingOps. The amount is clamped to the deposit bounds.
func (o *Orchestrator) TopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error) {
	const op = "top_up"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, true)
	if err != nil {
		return nil, err
	}
	v, err := o.ledgerVault(ctx, s.VaultAddress)
	if err != nil {
		return nil, err
	}
	if !o.planner.ShouldTopUp(v.AvailableAmount, req.PendingOps) {
		return &TopUpResult{Vault: v}, nil
	}

	amount := o.planner.OptimalTopUp(v.AvailableAmount, req.PendingOps)
	amount = min(max(amount, o.cfg.MinDeposit), o.cfg.MaxDeposit)
	r, err := o.deposit(ctx, op, s, amount, o.ledger.Deposit)
	if err != nil {
		return nil, err
	}
	return &TopUpResult{Needed: true, Amount: amount, Receipt: r, Vault: r.Vault}, nil
}

type depositFunc func(ctx context.Context, vaultID, depositor string, amount uint64) (*ledger.Receipt, error)

func (o *Orchestrator) deposit(ctx context.Context, op string, s *domain.Session, amount uint64, fn depositFunc) (*ledger.Receipt, error) {
	if err := o.preflight(ctx, s.Owner, amount); err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}
	r, err := o.mutate(ctx, op, s, domain.TransactionDeposit, amount, 0, func() (*ledger.Receipt, error) {
		return fn(ctx, s.VaultAddress, s.Owner, amount)
	})
	if err != nil {
		return nil, err
	}
	observability.RecordDeposit(r.Event.Amount)
	return r, nil
}

func (o *Orchestrator) checkDepositBounds(amount uint64) error {
	if amount < o.cfg.MinDeposit || amount > o.cfg.MaxDeposit {
		return fmt.Errorf("deposit %d outside [%d, %d]: %w",
			amount, o.cfg.MinDeposit, o.cfg.MaxDeposit, domain.ErrInvalidAmount)
	}
	return nil
}

// TradeRequest debits a trade from a session's vault.
type TradeRequest struct {
	SessionID string
	Amount    uint64
	Fee       uint64 // zero estimates the fee from Amount and Priority
	Priority  int    // topup.PriorityNormal when zero
	Caller    Caller
}

// TradeResult is the outcome of ExecuteTrade.
type TradeResult struct {
	Receipt   *ledger.Receipt
	Fee       uint64
	Signature string // base58 ed25519 signature by the ephemeral identity
}

// ExecuteTrade signs the trade with the session's ephemeral identity and
// debits amount+fee from the vault. Trade amounts are taken as given.
func (o *Orchestrator) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	const op = "execute_trade"
	if err := o.admit(op, req.Caller); err != nil {
		return nil, err
	}
	if req.Amount == 0 {
		return nil, fmt.Errorf("trade amount required: %w", domain.ErrInvalidAmount)
	}
	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.session(ctx, op, req.SessionID, req.Caller, true)
	if err != nil {
		return nil, err
	}
	if err := o.screen(op, s.Owner, req.Amount); err != nil {
		return nil, err
	}

	fee := req.Fee
	if fee == 0 {
		priority := req.Priority
		if priority == 0 {
			priority = topup.PriorityNormal
		}
		fee = topup.PriorityFee(o.planner.EstimateTradeFee(req.Amount), priority)
	}
	if _, carry := bits.Add64(req.Amount, fee, 0); carry != 0 {
		return nil, fmt.Errorf("trade %d + fee %d: %w", req.Amount, fee, domain.ErrOverflow)
	}

	sig, err := o.custodian.Sign(s.EncryptedSecret, tradeMessage(s, req.Amount, fee))
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}

	r, err := o.mutate(ctx, op, s, domain.TransactionTrade, req.Amount, fee, func() (*ledger.Receipt, error) {
		return o.ledger.ExecuteTrade(ctx, s.VaultAddress, s.EphemeralIdentity, req.Amount, fee)
	})
	if err != nil {
		return nil, err
	}
	observability.RecordTrade(req.Amount + fee)
	return &TradeResult{Receipt: r, Fee: fee, Signature: base58.Encode(sig)}, nil
}

// tradeMessage is the payload signed by the ephemeral identity.
func tradeMessage(s *domain.Session, amount, fee uint64) []byte {
	return []byte(fmt.Sprintf("trade:%s:%s:%d:%d", s.VaultAddress, s.EphemeralIdentity, amount, fee))
}
