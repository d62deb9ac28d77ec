// Package stub provides in-memory Solana clients for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"ephemeral-vault/internal/solana"
)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu           sync.Mutex
	transactions map[string]*solana.Transaction
	balances     map[string]uint64
	signatures   map[string][]solana.SignatureInfo
	slot         int64

	// BalanceErr, when set, is returned by GetBalance.
	BalanceErr error
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		transactions: make(map[string]*solana.Transaction),
		balances:     make(map[string]uint64),
		signatures:   make(map[string][]solana.SignatureInfo),
	}
}

// AddTransaction registers tx and appends its signature to every account it touches.
func (c *RPCClient) AddTransaction(tx *solana.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transactions[tx.Signature] = tx
	info := solana.SignatureInfo{Signature: tx.Signature, Slot: tx.Slot, Err: tx.Err}
	for _, key := range tx.AccountKeys {
		// newest first
		c.signatures[key] = append([]solana.SignatureInfo{info}, c.signatures[key]...)
	}
	if tx.Slot > c.slot {
		c.slot = tx.Slot
	}
}

// SetBalance sets the lamport balance returned for pubkey.
func (c *RPCClient) SetBalance(pubkey string, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[pubkey] = lamports
}

// GetTransaction retrieves a transaction by signature from the stub store.
func (c *RPCClient) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.transactions[signature]
	if !ok {
		return nil, fmt.Errorf("%s: %w", signature, solana.ErrTransactionNotFound)
	}
	return tx, nil
}

// GetBalance returns the stored balance, zero for unknown accounts.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BalanceErr != nil {
		return 0, c.BalanceErr
	}
	return c.balances[pubkey], nil
}

// GetSignaturesForAddress retrieves signatures for an address from the stub store.
func (c *RPCClient) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sigs := c.signatures[address]

	if opts != nil && opts.Before != "" {
		for i, s := range sigs {
			if s.Signature == opts.Before {
				sigs = sigs[i+1:]
				break
			}
		}
	}
	if opts != nil && opts.Limit > 0 && len(sigs) > opts.Limit {
		sigs = sigs[:opts.Limit]
	}
	return append([]solana.SignatureInfo(nil), sigs...), nil
}

// GetSlot returns the highest slot seen.
func (c *RPCClient) GetSlot(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot, nil
}

var _ solana.RPCClient = (*RPCClient)(nil)
