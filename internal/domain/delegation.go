package domain

import "time"

// Delegation grants one ephemeral identity the right to spend from a vault.
// Records are never deleted: revocation only stamps RevokedAt.
//
// Invariant: IsActive == (RevokedAt == nil).
type Delegation struct {
	ID               string
	VaultID          string
	DelegateIdentity string
	ApprovedAt       time.Time
	RevokedAt        *time.Time // nullable
	IsActive         bool
}

// Clone returns a deep copy of the delegation.
func (d *Delegation) Clone() *Delegation {
	if d == nil {
		return nil
	}
	cp := *d
	if d.RevokedAt != nil {
		t := *d.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
