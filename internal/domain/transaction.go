package domain

import "time"

// TransactionKind classifies a balance movement.
type TransactionKind string

const (
	TransactionDeposit    TransactionKind = "deposit"
	TransactionTrade      TransactionKind = "trade"
	TransactionWithdrawal TransactionKind = "withdrawal"
	TransactionFee        TransactionKind = "fee"
)

// IsValid checks if the kind is a valid value.
func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionDeposit, TransactionTrade, TransactionWithdrawal, TransactionFee:
		return true
	}
	return false
}

// TransactionStatus is the settlement state of a transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionFailed    TransactionStatus = "failed"
)

// IsValid checks if the status is a valid value.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionPending, TransactionConfirmed, TransactionFailed:
		return true
	}
	return false
}

// IsFinal reports whether the status can no longer change.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionConfirmed || s == TransactionFailed
}

// Transaction records one balance movement on a vault.
// Immutable once Status is final.
type Transaction struct {
	ID                string
	VaultID           string
	SessionID         string
	Kind              TransactionKind
	Amount            uint64
	Fee               uint64
	Timestamp         time.Time
	Status            TransactionStatus
	ExternalReference *string // ledger event id or chain signature (nullable)
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ExternalReference != nil {
		ref := *t.ExternalReference
		cp.ExternalReference = &ref
	}
	return &cp
}
