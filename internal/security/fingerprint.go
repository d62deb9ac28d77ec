package security

import (
	"crypto/sha256"
	"encoding/hex"

	"ephemeral-vault/internal/domain"
)

// Fingerprint returns SHA256("{userAgent}:{origin}") as lowercase hex.
func Fingerprint(userAgent, origin string) string {
	hash := sha256.Sum256([]byte(userAgent + ":" + origin))
	return hex.EncodeToString(hash[:])
}

// ValidateFingerprint fails with ErrSuspiciousActivity when a stored
// fingerprint exists and differs from current. Absent stored passes.
func ValidateFingerprint(stored *string, current string) error {
	if stored != nil && *stored != current {
		return domain.ErrSuspiciousActivity
	}
	return nil
}
