package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"ephemeral-vault/internal/domain"
)

// ComputeEventID computes a deterministic ledger event id using SHA256.
// Formula: SHA256(vault_id|kind|sequence)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(vaultID string, kind domain.EventKind, sequence uint64) string {
	data := fmt.Sprintf("%s|%s|%d", vaultID, string(kind), sequence)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
