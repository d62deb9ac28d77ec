package solana

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransactionNotFound is returned when the RPC node has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCClient defines the Solana RPC calls used by the vault service.
type RPCClient interface {
	// GetTransaction retrieves a transaction by signature.
	// Returns ErrTransactionNotFound if the node has no record of it.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// GetSignaturesForAddress retrieves recent signatures involving address, newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetSlot returns the current confirmed slot.
	GetSlot(ctx context.Context) (int64, error)
}

// Transaction represents a confirmed Solana transaction.
type Transaction struct {
	Slot        int64
	Signature   string
	BlockTime   int64 // Unix timestamp (seconds)
	Err         any   // nil on success
	LogMessages []string
	AccountKeys []string
}

// Succeeded reports whether the transaction executed without error.
func (t *Transaction) Succeeded() bool {
	return t.Err == nil
}

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       any
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // start searching backwards from this signature
	Limit  int    // maximum number of signatures to return
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
