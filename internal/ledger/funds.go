package ledger

import (
	"context"
	"fmt"
	"math/bits"
	"sync"

	"ephemeral-vault/internal/domain"
)

// Funds is the owner-side wallet the ledger moves money from and back to.
type Funds interface {
	// Debit takes amount from owner. Returns ErrInsufficientFunds if owner holds less.
	Debit(ctx context.Context, owner string, amount uint64) error

	// Credit returns amount to owner.
	Credit(ctx context.Context, owner string, amount uint64) error
}

// WalletBook is an in-memory Funds implementation.
type WalletBook struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewWalletBook creates an empty WalletBook.
func NewWalletBook() *WalletBook {
	return &WalletBook{balances: make(map[string]uint64)}
}

// Fund adds amount to owner's wallet.
func (w *WalletBook) Fund(owner string, amount uint64) error {
	return w.Credit(context.Background(), owner, amount)
}

// Balance returns the wallet balance of owner.
func (w *WalletBook) Balance(owner string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[owner]
}

// Debit implements Funds.
func (w *WalletBook) Debit(_ context.Context, owner string, amount uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[owner] < amount {
		return fmt.Errorf("wallet %s holds %d, need %d: %w", owner, w.balances[owner], amount, domain.ErrInsufficientFunds)
	}
	w.balances[owner] -= amount
	return nil
}

// Credit implements Funds.
func (w *WalletBook) Credit(_ context.Context, owner string, amount uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sum, carry := bits.Add64(w.balances[owner], amount, 0)
	if carry != 0 {
		return fmt.Errorf("wallet %s: %w", owner, domain.ErrOverflow)
	}
	w.balances[owner] = sum
	return nil
}

// BalanceSource reports an account's on-chain balance.
type BalanceSource interface {
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// ChainFunds is a Funds whose owner wallets live on chain. Debits are
// checked against the owner's current balance; transfers themselves
// settle on chain, so Credit records nothing. A nil source accepts every
// debit, which is only suitable for local development.
type ChainFunds struct {
	source BalanceSource
}

// NewChainFunds creates a ChainFunds.
func NewChainFunds(source BalanceSource) *ChainFunds {
	return &ChainFunds{source: source}
}

// Debit implements Funds.
func (c *ChainFunds) Debit(ctx context.Context, owner string, amount uint64) error {
	if c.source == nil {
		return nil
	}
	balance, err := c.source.GetBalance(ctx, owner)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", owner, err)
	}
	if balance < amount {
		return fmt.Errorf("wallet %s holds %d, need %d: %w", owner, balance, amount, domain.ErrInsufficientFunds)
	}
	return nil
}

// Credit implements Funds.
func (c *ChainFunds) Credit(context.Context, string, uint64) error {
	return nil
}

var (
	_ Funds = (*WalletBook)(nil)
	_ Funds = (*ChainFunds)(nil)
)
