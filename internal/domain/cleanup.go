package domain

import "time"

// CleanupReason explains why a vault's funds were reclaimed.
type CleanupReason string

const (
	CleanupExpired        CleanupReason = "expired"
	CleanupRevoked        CleanupReason = "revoked"
	CleanupManual         CleanupReason = "manual"
	CleanupAbandonedFunds CleanupReason = "abandoned_funds"
)

// IsValid checks if the reason is a valid value.
func (r CleanupReason) IsValid() bool {
	switch r {
	case CleanupExpired, CleanupRevoked, CleanupManual, CleanupAbandonedFunds:
		return true
	}
	return false
}

// CleanupEvent is the immutable record of a vault reclamation.
type CleanupEvent struct {
	ID             string
	VaultID        string
	ReturnedAmount uint64
	Reason         CleanupReason
	CleanedAt      time.Time
}
