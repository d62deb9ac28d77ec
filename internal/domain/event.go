package domain

import "time"

// EventKind identifies the ledger operation that emitted a LedgerEvent.
type EventKind string

const (
	EventVaultCreated     EventKind = "VAULT_CREATED"
	EventDelegateApproved EventKind = "DELEGATE_APPROVED"
	EventDeposit          EventKind = "DEPOSIT"
	EventTradeExecuted    EventKind = "TRADE_EXECUTED"
	EventAccessRevoked    EventKind = "ACCESS_REVOKED"
	EventVaultCleaned     EventKind = "VAULT_CLEANED"
	EventVaultClosed      EventKind = "VAULT_CLOSED"
)

// LedgerEvent is emitted by every successful ledger mutation and persisted
// by the custody side for audit. Corresponds to ledger_events in ClickHouse.
type LedgerEvent struct {
	EventID   string // deterministic hash of (vault, kind, sequence)
	Sequence  uint64 // per-vault, starts at 1
	Kind      EventKind
	VaultID   string
	Owner     string
	Delegate  string
	Amount    uint64
	Fee       uint64
	Returned  uint64

	// Resulting balances
	AvailableAmount uint64
	UsedAmount      uint64
	TotalDeposited  uint64

	Timestamp time.Time
}
