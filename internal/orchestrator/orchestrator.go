// Package orchestrator composes the security gate, session custody, the
// ledger authority and the activity monitor into the vault workflows.
// Every entry point passes the security gate before touching the ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/custody"
	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/keyed"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/monitor"
	"ephemeral-vault/internal/observability"
	"ephemeral-vault/internal/security"
	"ephemeral-vault/internal/storage"
	"ephemeral-vault/internal/topup"
)

// Config holds the vault policy applied by the orchestrator.
type Config struct {
	SessionDuration   time.Duration // default vault/session lifetime
	InactivityTimeout time.Duration // monitor threshold for abandoned vaults
	MinDeposit        uint64
	MaxDeposit        uint64
	DelegationMaxAge  time.Duration
	NearExpiry        time.Duration
}

// DefaultConfig returns the default vault policy.
func DefaultConfig() Config {
	return Config{
		SessionDuration:   3600 * time.Second,
		InactivityTimeout: 1800 * time.Second,
		MinDeposit:        5000,
		MaxDeposit:        10_000_000_000,
		DelegationMaxAge:  3600 * time.Second,
		NearExpiry:        custody.DefaultNearExpiry,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SessionDuration <= 0 {
		c.SessionDuration = def.SessionDuration
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = def.InactivityTimeout
	}
	if c.MaxDeposit == 0 {
		c.MaxDeposit = def.MaxDeposit
	}
	if c.DelegationMaxAge <= 0 {
		c.DelegationMaxAge = def.DelegationMaxAge
	}
	if c.NearExpiry <= 0 {
		c.NearExpiry = def.NearExpiry
	}
	return c
}

// BalanceChecker reports an account's on-chain balance.
// solana.RPCClient satisfies it.
type BalanceChecker interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// Caller identifies where a request came from.
type Caller struct {
	Origin    string // network address, the rate-limit key
	UserAgent string
}

func (c Caller) fingerprint() string {
	return security.Fingerprint(c.UserAgent, c.Origin)
}

// Options contains configuration for creating an Orchestrator.
type Options struct {
	Ledger    ledger.Authority
	Custodian *custody.Custodian
	Guard     *security.Guard
	Planner   topup.Planner
	Monitor   *monitor.Monitor

	Sessions     storage.SessionStore
	Vaults       storage.VaultStore
	Delegations  storage.DelegationStore
	Transactions storage.TransactionStore
	Cleanups     storage.CleanupStore
	Events       storage.LedgerEventStore

	Balances BalanceChecker // optional deposit preflight
	Config   Config
	Clock    clock.Clock
	Logger   *log.Logger
}

// Orchestrator runs the vault workflows. Operations on one session are
// serialized; the ledger additionally serializes per vault.
type Orchestrator struct {
	ledger    ledger.Authority
	custodian *custody.Custodian
	guard     *security.Guard
	planner   topup.Planner
	monitor   *monitor.Monitor

	sessions     storage.SessionStore
	vaults       storage.VaultStore
	delegations  storage.DelegationStore
	transactions storage.TransactionStore
	cleanups     storage.CleanupStore
	events       storage.LedgerEventStore

	balances BalanceChecker
	cfg      Config
	clock    clock.Clock
	logger   *log.Logger

	locks *keyed.Mutex // keyed by session id
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("ledger required")
	case opts.Custodian == nil:
		return nil, errors.New("custodian required")
	case opts.Guard == nil:
		return nil, errors.New("security guard required")
	case opts.Sessions == nil, opts.Vaults == nil, opts.Delegations == nil,
		opts.Transactions == nil, opts.Cleanups == nil, opts.Events == nil:
		return nil, errors.New("all stores required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	mon := opts.Monitor
	if mon == nil {
		mon = monitor.New(clk)
	}
	planner := opts.Planner
	if planner.BaseFee == 0 || planner.SizeFeeRate == 0 {
		planner = topup.NewPlanner(planner.BaseFee, planner.SizeFeeRate)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		ledger:       opts.Ledger,
		custodian:    opts.Custodian,
		guard:        opts.Guard,
		planner:      planner,
		monitor:      mon,
		sessions:     opts.Sessions,
		vaults:       opts.Vaults,
		delegations:  opts.Delegations,
		transactions: opts.Transactions,
		cleanups:     opts.Cleanups,
		events:       opts.Events,
		balances:     opts.Balances,
		cfg:          opts.Config.withDefaults(),
		clock:        clk,
		logger:       logger,
		locks:        keyed.New(),
	}, nil
}

// Monitor returns the activity monitor fed by the orchestrator.
func (o *Orchestrator) Monitor() *monitor.Monitor {
	return o.monitor
}

// Guard returns the security gate.
func (o *Orchestrator) Guard() *security.Guard {
	return o.guard
}

// Stats is a point-in-time count of live state.
type Stats struct {
	ActiveSessions int
	TrackedVaults  int
}

// Stats returns the current session and monitor counts.
func (o *Orchestrator) Stats() Stats {
	return Stats{ActiveSessions: o.custodian.ActiveSessions(), TrackedVaults: o.monitor.Len()}
}

// admit applies the per-origin rate limit.
func (o *Orchestrator) admit(op string, c Caller) error {
	if err := o.guard.Admit(c.Origin); err != nil {
		o.reject(op, err)
		return err
	}
	return nil
}

// screen runs anomaly detection for principal.
func (o *Orchestrator) screen(op, principal string, amount uint64) error {
	if err := o.guard.Screen(principal, amount); err != nil {
		o.reject(op, err)
		return err
	}
	return nil
}

func (o *Orchestrator) reject(op string, err error) {
	observability.RecordSecurityRejection(domain.Kind(err))
	o.logger.Printf("%s rejected: %v", op, err)
}

// session loads a session and binds it to the caller's origin and device.
// When live is set the session must also be active and unexpired.
// A session without a stored fingerprint enrolls the caller's on first use.
func (o *Orchestrator) session(ctx context.Context, op, sessionID string, c Caller, live bool) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required: %w", domain.ErrInvalidRequest)
	}
	s, err := o.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	if live {
		err = o.custodian.VerifySession(s, c.Origin)
	} else if c.Origin != s.OriginAddress {
		err = domain.ErrUnauthorized
	}
	if err == nil {
		err = security.ValidateFingerprint(s.DeviceFingerprint, c.fingerprint())
	}
	if err != nil {
		err = fmt.Errorf("session %s: %w", sessionID, err)
		o.reject(op, err)
		return nil, err
	}

	if s.DeviceFingerprint == nil && c.UserAgent != "" {
		fp := c.fingerprint()
		s.DeviceFingerprint = &fp
		o.saveSession(ctx, s)
	}
	return s, nil
}

// preflight checks the owner's on-chain balance when a checker is configured.
func (o *Orchestrator) preflight(ctx context.Context, owner string, amount uint64) error {
	if o.balances == nil {
		return nil
	}
	balance, err := o.balances.GetBalance(ctx, owner)
	if err != nil {
		return fmt.Errorf("balance preflight for %s: %w", owner, err)
	}
	if balance < amount {
		return fmt.Errorf("owner %s holds %d, needs %d: %w", owner, balance, amount, domain.ErrInsufficientFunds)
	}
	return nil
}

// mutate runs a balance-moving ledger operation bracketed by a pending
// transaction record and persists the receipt. The caller holds the
// session lock.
func (o *Orchestrator) mutate(ctx context.Context, op string, s *domain.Session, kind domain.TransactionKind,
	amount, fee uint64, fn func() (*ledger.Receipt, error)) (*ledger.Receipt, error) {
	tx := o.beginTransaction(ctx, s, kind, amount, fee)
	r, err := o.onLedger(ctx, s.VaultAddress, fn)
	o.finishTransaction(ctx, tx, r, err)
	if err != nil {
		o.ledgerFailure(op, s, err)
		return nil, err
	}

	observability.RecordLedgerOp(op, "ok")
	o.persistReceipt(ctx, s, r)
	// Untracked vaults have no monitor entry to update.
	_ = o.monitor.UpdateBalance(r.Vault.ID, r.Vault.AvailableAmount)
	return r, nil
}

func (o *Orchestrator) ledgerFailure(op string, s *domain.Session, err error) {
	observability.RecordLedgerOp(op, domain.Kind(err))
	o.logger.Printf("%s failed: vault=%s session=%s: %v", op, s.VaultAddress, s.ID, err)
}

// persistFailure logs and counts a record that failed to persist after a
// ledger mutation. It is never returned: the ledger is authoritative.
func (o *Orchestrator) persistFailure(record, id string, err error) {
	observability.RecordPersistFailure(record)
	o.logger.Printf("persist %s %s: %v", record, id, err)
}

func (o *Orchestrator) persistReceipt(ctx context.Context, s *domain.Session, r *ledger.Receipt) {
	if r.Vault != nil {
		if err := o.vaults.Upsert(ctx, r.Vault); err != nil {
			o.persistFailure("vault", r.Vault.ID, err)
		}
	}
	if r.Delegation != nil {
		if err := o.delegations.Upsert(ctx, r.Delegation); err != nil {
			o.persistFailure("delegation", r.Delegation.ID, err)
		}
	}
	if r.Event != nil {
		if err := o.events.Insert(ctx, r.Event); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			o.persistFailure("ledger_event", r.Event.EventID, err)
		}
	}
	if s != nil && r.Vault != nil {
		s.SyncBalances(r.Vault)
		o.saveSession(ctx, s)
	}
}

func (o *Orchestrator) saveSession(ctx context.Context, s *domain.Session) {
	if err := o.sessions.Upsert(ctx, s); err != nil {
		o.persistFailure("session", s.ID, err)
	}
}

func (o *Orchestrator) beginTransaction(ctx context.Context, s *domain.Session, kind domain.TransactionKind, amount, fee uint64) *domain.Transaction {
	tx := &domain.Transaction{
		ID:        uuid.NewString(),
		VaultID:   s.VaultAddress,
		SessionID: s.ID,
		Kind:      kind,
		Amount:    amount,
		Fee:       fee,
		Timestamp: o.clock.Now(),
		Status:    domain.TransactionPending,
	}
	if err := o.transactions.Insert(ctx, tx); err != nil {
		o.persistFailure("transaction", tx.ID, err)
		return nil
	}
	return tx
}

func (o *Orchestrator) finishTransaction(ctx context.Context, tx *domain.Transaction, r *ledger.Receipt, opErr error) {
	if tx == nil {
		return
	}
	status := domain.TransactionConfirmed
	var ref *string
	if opErr != nil {
		status = domain.TransactionFailed
	} else if r != nil && r.Event != nil {
		id := r.Event.EventID
		ref = &id
	}
	if err := o.transactions.Finalize(ctx, tx.ID, status, ref); err != nil {
		o.persistFailure("transaction", tx.ID, err)
	}
}

// recordReturn writes the already-final withdrawal record and the cleanup
// event for funds handed back to the owner. The returned amount is only
// known once the ledger has applied the operation.
func (o *Orchestrator) recordReturn(ctx context.Context, s *domain.Session, r *ledger.Receipt, reason domain.CleanupReason) {
	at := o.clock.Now()
	if r.Event != nil {
		at = r.Event.Timestamp
	}

	if r.Returned > 0 {
		tx := &domain.Transaction{
			ID:        uuid.NewString(),
			VaultID:   r.Vault.ID,
			Kind:      domain.TransactionWithdrawal,
			Amount:    r.Returned,
			Timestamp: at,
			Status:    domain.TransactionConfirmed,
		}
		if s != nil {
			tx.SessionID = s.ID
		}
		if r.Event != nil {
			id := r.Event.EventID
			tx.ExternalReference = &id
		}
		if err := o.transactions.Insert(ctx, tx); err != nil {
			o.persistFailure("transaction", tx.ID, err)
		}
		observability.RecordFundsReturned(string(reason), r.Returned)
	}

	ev := &domain.CleanupEvent{
		ID:             uuid.NewString(),
		VaultID:        r.Vault.ID,
		ReturnedAmount: r.Returned,
		Reason:         reason,
		CleanedAt:      at,
	}
	if err := o.cleanups.Insert(ctx, ev); err != nil {
		o.persistFailure("cleanup_event", ev.ID, err)
	}
}

// retire deactivates a session, frees its issuance slot and stops
// monitoring its vault.
func (o *Orchestrator) retire(ctx context.Context, s *domain.Session, v *domain.Vault) {
	o.custodian.Revoke(s)
	if v != nil {
		s.SyncBalances(v)
	}
	o.saveSession(ctx, s)
	o.monitor.Untrack(s.VaultAddress)
	o.updateGauges()
}

func (o *Orchestrator) updateGauges() {
	observability.UpdateSessionGauges(o.custodian.ActiveSessions(), o.monitor.Len())
}
