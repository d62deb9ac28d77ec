package domain

import "time"

// VaultStatus is the lifecycle state of a vault on the ledger.
type VaultStatus string

const (
	VaultStatusActive  VaultStatus = "ACTIVE"
	VaultStatusCleaned VaultStatus = "CLEANED"
	VaultStatusClosed  VaultStatus = "CLOSED"
)

// String returns the string representation of VaultStatus.
func (s VaultStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s VaultStatus) IsValid() bool {
	switch s {
	case VaultStatusActive, VaultStatusCleaned, VaultStatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no further balance movement is possible.
func (s VaultStatus) IsTerminal() bool {
	return s == VaultStatusCleaned || s == VaultStatusClosed
}

// Vault is the balance-and-rights-holding entity created per delegated session.
// Corresponds to vaults table in PostgreSQL. Amounts are in lamports.
//
// Invariant: AvailableAmount + UsedAmount == TotalDeposited.
type Vault struct {
	ID                string      // derived program address (base58)
	Bump              uint8       // derivation bump seed
	Owner             string      // owner identity
	EphemeralIdentity string      // delegate identity, empty until approved
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	ApprovedLimit     uint64
	UsedAmount        uint64
	AvailableAmount   uint64
	TotalDeposited    uint64
	TotalReturned     uint64 // funds handed back to the owner by revoke/cleanup
	IsActive          bool
	Status            VaultStatus
	OriginAddress     string
	DeviceFingerprint *string // nullable
}

// Expired reports whether the vault lifetime has elapsed at now.
func (v *Vault) Expired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

// Balanced reports whether the accounting invariant holds.
func (v *Vault) Balanced() bool {
	return v.AvailableAmount+v.UsedAmount == v.TotalDeposited && v.UsedAmount <= v.ApprovedLimit
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	cp := *v
	if v.DeviceFingerprint != nil {
		fp := *v.DeviceFingerprint
		cp.DeviceFingerprint = &fp
	}
	return &cp
}
