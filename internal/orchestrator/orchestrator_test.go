package orchestrator

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/custody"
	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/security"
	"ephemeral-vault/internal/storage/memory"
)

const (
	testProgramID = "11111111111111111111111111111111"
	owner         = "owner-wallet"
)

var (
	t0     = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	caller = Caller{Origin: "10.0.0.1", UserAgent: "vault-test/1.0"}
)

type fixture struct {
	orch         *Orchestrator
	clock        *clock.FakeClock
	wallets      *ledger.WalletBook
	sessions     *memory.SessionStore
	vaults       *memory.VaultStore
	delegations  *memory.DelegationStore
	transactions *memory.TransactionStore
	cleanups     *memory.CleanupStore
	events       *memory.LedgerEventStore
	rateLimit    int
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()
	wallets := ledger.NewWalletBook()
	require.NoError(t, wallets.Fund(owner, 1_000_000))

	f := &fixture{
		clock:        clock.Fake(t0),
		wallets:      wallets,
		sessions:     memory.NewSessionStore(),
		vaults:       memory.NewVaultStore(),
		delegations:  memory.NewDelegationStore(),
		transactions: memory.NewTransactionStore(),
		cleanups:     memory.NewCleanupStore(),
		events:       memory.NewLedgerEventStore(),
		rateLimit:    rateLimit,
	}
	f.restart(t)
	return f
}

// restart replaces every in-process component with a fresh one over the
// same stores and wallets.
func (f *fixture) restart(t *testing.T) {
	t.Helper()
	l, err := ledger.New(ledger.Options{ProgramID: testProgramID, Clock: f.clock, Funds: f.wallets})
	require.NoError(t, err)
	f.build(t, l)
}

func (f *fixture) build(t *testing.T, l ledger.Authority) {
	t.Helper()
	cust, err := custody.NewCustodian(custody.Options{MasterSecret: "test-master-secret", Clock: f.clock})
	require.NoError(t, err)
	logger := log.New(io.Discard, "", 0)

	f.orch, err = New(Options{
		Ledger:       l,
		Custodian:    cust,
		Guard:        security.NewGuard(security.Options{Clock: f.clock, RateLimitPerMinute: f.rateLimit, Logger: logger}),
		Sessions:     f.sessions,
		Vaults:       f.vaults,
		Delegations:  f.delegations,
		Transactions: f.transactions,
		Cleanups:     f.cleanups,
		Events:       f.events,
		Clock:        f.clock,
		Logger:       logger,
	})
	require.NoError(t, err)
}

func (f *fixture) open(t *testing.T, limit uint64, d time.Duration) *SessionInfo {
	t.Helper()
	info, err := f.orch.OpenSession(context.Background(), OpenSessionRequest{
		Owner:         owner,
		ApprovedLimit: limit,
		Duration:      d,
		Caller:        caller,
	})
	require.NoError(t, err)
	return info
}

func (f *fixture) deposit(t *testing.T, sessionID string, amount uint64) *ledger.Receipt {
	t.Helper()
	r, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: sessionID, Amount: amount, Caller: caller})
	require.NoError(t, err)
	return r
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestOpenSession(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)

	s := info.Session
	assert.True(t, s.IsActive)
	assert.Equal(t, info.Vault.ID, s.VaultAddress)
	assert.Equal(t, t0.Add(DefaultConfig().SessionDuration), s.ExpiresAt)
	require.NotNil(t, s.DeviceFingerprint)
	assert.Equal(t, security.Fingerprint(caller.UserAgent, caller.Origin), *s.DeviceFingerprint)

	require.NotNil(t, info.Delegation)
	assert.Equal(t, s.EphemeralIdentity, info.Delegation.DelegateIdentity)
	assert.True(t, f.orch.Monitor().IsTracked(s.VaultAddress))

	stored, err := f.sessions.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.VaultAddress, stored.VaultAddress)
	_, err = f.vaults.GetByID(context.Background(), s.VaultAddress)
	require.NoError(t, err)
}

func TestOpenSession_ZeroLimitReleasesSlot(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.orch.OpenSession(context.Background(), OpenSessionRequest{Owner: owner, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, 0, f.orch.custodian.ActiveSessions())
}

func TestScenario_DepositTradeRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)
	id := info.Session.ID

	r := f.deposit(t, id, 50000)
	assert.Equal(t, uint64(50000), r.Vault.AvailableAmount)
	assert.Equal(t, uint64(950_000), f.wallets.Balance(owner))

	trade, err := f.orch.ExecuteTrade(ctx, TradeRequest{SessionID: id, Amount: 20000, Fee: 1000, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, uint64(29000), trade.Receipt.Vault.AvailableAmount)
	assert.Equal(t, uint64(21000), trade.Receipt.Vault.UsedAmount)

	sig, err := base58.Decode(trade.Signature)
	require.NoError(t, err)
	s, err := f.sessions.GetByID(ctx, id)
	require.NoError(t, err)
	require.NoError(t, custody.VerifySignature(s.EphemeralIdentity, tradeMessage(s, 20000, 1000), sig))
	assert.Equal(t, uint64(29000), s.AvailableAmount)
	assert.Equal(t, uint64(21000), s.UsedAmount)

	ret, err := f.orch.RevokeSession(ctx, SessionRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, uint64(29000), ret.Returned)
	assert.Equal(t, uint64(979_000), f.wallets.Balance(owner))
	assert.False(t, f.orch.Monitor().IsTracked(info.Vault.ID))

	s, err = f.sessions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, s.IsActive)

	events, err := f.cleanups.ListByVault(ctx, info.Vault.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.CleanupRevoked, events[0].Reason)
	assert.Equal(t, uint64(29000), events[0].ReturnedAmount)

	// Revoking again succeeds and returns nothing.
	ret, err = f.orch.RevokeSession(ctx, SessionRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.Zero(t, ret.Returned)

	// Trading on a revoked session fails.
	_, err = f.orch.ExecuteTrade(ctx, TradeRequest{SessionID: id, Amount: 1000, Fee: 10, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrInvalidSession)
}

func TestTransactionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)
	id := info.Session.ID

	r := f.deposit(t, id, 50000)
	f.clock.Advance(time.Second)
	// Exceeds the available balance once the estimated fee is added.
	_, err := f.orch.ExecuteTrade(ctx, TradeRequest{SessionID: id, Amount: 60000, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	txs, err := f.transactions.ListBySession(ctx, id)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, domain.TransactionDeposit, txs[0].Kind)
	assert.Equal(t, domain.TransactionConfirmed, txs[0].Status)
	require.NotNil(t, txs[0].ExternalReference)
	assert.Equal(t, r.Event.EventID, *txs[0].ExternalReference)

	assert.Equal(t, domain.TransactionTrade, txs[1].Kind)
	assert.Equal(t, domain.TransactionFailed, txs[1].Status)
	assert.Equal(t, uint64(5100), txs[1].Fee)
}

func TestDeposit_Bounds(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)

	for _, amount := range []uint64{0, 4999, 10_000_000_001} {
		_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: amount, Caller: caller})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, "amount %d", amount)
	}
}

type fixedBalance uint64

func (b fixedBalance) GetBalance(context.Context, string) (uint64, error) { return uint64(b), nil }

func TestDeposit_Preflight(t *testing.T) {
	f := newFixture(t, 0)
	f.orch.balances = fixedBalance(10000)
	info := f.open(t, 100000, 0)

	_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: 20000, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	f.deposit(t, info.Session.ID, 10000)
}

func TestAutoDeposit(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)

	r, err := f.orch.AutoDeposit(context.Background(), AutoDepositRequest{SessionID: info.Session.ID, FeeEstimate: 4000, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), r.Vault.AvailableAmount)

	r, err = f.orch.AutoDeposit(context.Background(), AutoDepositRequest{SessionID: info.Session.ID, FeeEstimate: 1000, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, uint64(15000), r.Vault.AvailableAmount)
}

func TestTopUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)
	f.deposit(t, info.Session.ID, 20000)

	res, err := f.orch.TopUp(ctx, TopUpRequest{SessionID: info.Session.ID, PendingOps: 2, Caller: caller})
	require.NoError(t, err)
	assert.False(t, res.Needed)
	assert.Nil(t, res.Receipt)

	res, err = f.orch.TopUp(ctx, TopUpRequest{SessionID: info.Session.ID, PendingOps: 4, Caller: caller})
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.Equal(t, uint64(40000), res.Amount)
	assert.Equal(t, uint64(60000), res.Vault.AvailableAmount)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, 2)
	info := f.open(t, 100000, 0)

	f.deposit(t, info.Session.ID, 10000)
	_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: 10000, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrRateLimitExceeded)

	f.clock.Advance(security.RateWindow + time.Second)
	f.deposit(t, info.Session.ID, 10000)
}

func TestOriginBinding(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)

	other := Caller{Origin: "10.0.0.2", UserAgent: caller.UserAgent}
	_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: 10000, Caller: other})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.orch.RevokeSession(context.Background(), SessionRequest{SessionID: info.Session.ID, Caller: other})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFingerprintBinding(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, 0)

	other := Caller{Origin: caller.Origin, UserAgent: "other-agent/2.0"}
	_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: 10000, Caller: other})
	assert.ErrorIs(t, err, domain.ErrSuspiciousActivity)
}

func TestFingerprint_EnrolledOnFirstUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	anonymous := Caller{Origin: caller.Origin}
	info, err := f.orch.OpenSession(ctx, OpenSessionRequest{Owner: owner, ApprovedLimit: 100000, Caller: anonymous})
	require.NoError(t, err)
	assert.Nil(t, info.Session.DeviceFingerprint)

	f.deposit(t, info.Session.ID, 10000)
	s, err := f.sessions.GetByID(ctx, info.Session.ID)
	require.NoError(t, err)
	require.NotNil(t, s.DeviceFingerprint)

	_, err = f.orch.Deposit(ctx, DepositRequest{SessionID: info.Session.ID, Amount: 10000, Caller: Caller{Origin: caller.Origin, UserAgent: "x"}})
	assert.ErrorIs(t, err, domain.ErrSuspiciousActivity)
}

func TestSessionExpiry(t *testing.T) {
	f := newFixture(t, 0)
	info := f.open(t, 100000, time.Minute)

	f.clock.Advance(time.Minute + time.Second)
	_, err := f.orch.Deposit(context.Background(), DepositRequest{SessionID: info.Session.ID, Amount: 10000, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestCleanupAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, time.Minute)
	id := info.Session.ID
	f.deposit(t, id, 30000)

	_, err := f.orch.CleanupVault(ctx, SessionRequest{SessionID: id, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrSessionNotExpired)
	_, err = f.orch.CloseVault(ctx, SessionRequest{SessionID: id, Caller: caller})
	assert.ErrorIs(t, err, domain.ErrVaultNotCleaned)

	f.clock.Advance(2 * time.Minute)
	res, err := f.orch.CleanupVault(ctx, SessionRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, uint64(30000), res.Returned)
	assert.False(t, res.AlreadyCleaned)
	assert.Equal(t, domain.VaultStatusCleaned, res.Vault.Status)
	assert.Equal(t, uint64(1_000_000), f.wallets.Balance(owner))

	res, err = f.orch.CleanupVault(ctx, SessionRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.True(t, res.AlreadyCleaned)
	assert.Zero(t, res.Returned)

	v, err := f.orch.CloseVault(ctx, SessionRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.Equal(t, domain.VaultStatusClosed, v.Status)

	stored, err := f.vaults.GetByID(ctx, info.Vault.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VaultStatusClosed, stored.Status)
}

func TestReclaim_Expired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, time.Hour)
	f.deposit(t, info.Session.ID, 50000)

	f.clock.Advance(time.Hour + time.Second)
	res, err := f.orch.Reclaim(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Expired)
	assert.Zero(t, res.Abandoned)
	assert.Equal(t, uint64(50000), res.Returned)
	assert.Equal(t, uint64(1_000_000), f.wallets.Balance(owner))

	events, err := f.cleanups.ListByVault(ctx, info.Vault.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.CleanupExpired, events[0].Reason)

	// Nothing left on the next pass.
	res, err = f.orch.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
}

func TestReclaim_Abandoned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 2*time.Hour)
	f.deposit(t, info.Session.ID, 50000)

	f.clock.Advance(DefaultConfig().InactivityTimeout + time.Second)
	res, err := f.orch.Reclaim(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Zero(t, res.Expired)
	assert.Equal(t, 1, res.Abandoned)
	assert.Equal(t, uint64(50000), res.Returned)
	assert.False(t, f.orch.Monitor().IsTracked(info.Vault.ID))

	events, err := f.cleanups.ListByVault(ctx, info.Vault.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.CleanupAbandonedFunds, events[0].Reason)
}

func TestRenewDelegation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 3*time.Hour)
	id := info.Session.ID
	f.deposit(t, id, 50000)

	res, err := f.orch.RenewDelegation(ctx, RenewRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.False(t, res.Renewed)
	assert.Equal(t, info.Delegation.ID, res.Delegation.ID)

	f.clock.Advance(DefaultConfig().DelegationMaxAge + time.Second)
	res, err = f.orch.RenewDelegation(ctx, RenewRequest{SessionID: id, Caller: caller})
	require.NoError(t, err)
	assert.True(t, res.Renewed)
	assert.NotEqual(t, info.Session.EphemeralIdentity, res.Delegation.DelegateIdentity)

	s, err := f.sessions.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.Delegation.DelegateIdentity, s.EphemeralIdentity)

	_, err = f.orch.ExecuteTrade(ctx, TradeRequest{SessionID: id, Amount: 10000, Fee: 100, Caller: caller})
	require.NoError(t, err)
}

func TestSessionStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	info := f.open(t, 100000, 10*time.Minute)
	f.deposit(t, info.Session.ID, 20000)

	st, err := f.orch.SessionStatus(ctx, SessionRequest{SessionID: info.Session.ID, Caller: caller})
	require.NoError(t, err)
	assert.True(t, st.Tracked)
	assert.False(t, st.NearExpiry)
	assert.Equal(t, uint64(20000), st.Vault.AvailableAmount)
	require.NotNil(t, st.Delegation)

	f.clock.Advance(6 * time.Minute)
	st, err = f.orch.SessionStatus(ctx, SessionRequest{SessionID: info.Session.ID, Caller: caller})
	require.NoError(t, err)
	assert.True(t, st.NearExpiry)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	a, err := f.orch.Analytics(ctx, owner, caller)
	require.NoError(t, err)
	assert.Zero(t, a.TotalSessions)
	assert.Nil(t, a.SuccessRate)
	assert.Nil(t, a.LastActivity)

	first := f.open(t, 100000, time.Hour)
	f.deposit(t, first.Session.ID, 50000)
	_, err = f.orch.ExecuteTrade(ctx, TradeRequest{SessionID: first.Session.ID, Amount: 60000, Caller: caller})
	require.Error(t, err)

	f.clock.Advance(time.Minute)
	second := f.open(t, 100000, 3*time.Hour)
	f.deposit(t, second.Session.ID, 30000)

	a, err = f.orch.Analytics(ctx, owner, caller)
	require.NoError(t, err)
	assert.Equal(t, 2, a.TotalSessions)
	assert.Equal(t, 2, a.ActiveSessions)
	assert.Equal(t, uint64(80000), a.TotalFundsProcessed)
	assert.Equal(t, 2*time.Hour, a.AverageSessionDuration)
	require.NotNil(t, a.SuccessRate)
	assert.InDelta(t, 2.0/3.0, *a.SuccessRate, 1e-9)
	require.NotNil(t, a.LastActivity)
	assert.Equal(t, t0.Add(time.Minute), *a.LastActivity)

	_, err = f.orch.Analytics(ctx, "", caller)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
