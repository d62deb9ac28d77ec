package domain

import "time"

// Session is the custody-side view of an ephemeral delegated session.
// It references its vault by address and mirrors the vault balances
// as last observed from the ledger.
type Session struct {
	ID                string
	Owner             string
	VaultAddress      string
	EphemeralIdentity string // base58 public key
	EncryptedSecret   string // base64(nonce || ciphertext)
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	IsActive          bool
	OriginAddress     string
	DeviceFingerprint *string // nullable
	ApprovedLimit     uint64
	UsedAmount        uint64
	AvailableAmount   uint64
	TotalDeposited    uint64
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.DeviceFingerprint != nil {
		fp := *s.DeviceFingerprint
		cp.DeviceFingerprint = &fp
	}
	return &cp
}

// SyncBalances copies the ledger balances of v into the session.
func (s *Session) SyncBalances(v *Vault) {
	s.ApprovedLimit = v.ApprovedLimit
	s.UsedAmount = v.UsedAmount
	s.AvailableAmount = v.AvailableAmount
	s.TotalDeposited = v.TotalDeposited
	s.LastActivityAt = v.LastActivityAt
}
