package idhash

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"ephemeral-vault/internal/domain"
)

// Seed purposes for program-derived addresses.
const (
	PurposeVault      = "vault"
	PurposeDelegation = "delegation"
)

const pdaMarker = "ProgramDerivedAddress"

// DeriveAddress derives a program-owned address for (owner, purpose) under programID.
// Seeds: [purpose, ownerSeed, bump]. The first bump from 255 down whose hash is
// off the ed25519 curve wins. Returns base58 address and the bump.
//
// ownerSeed is the decoded 32-byte public key when owner is base58 of one,
// otherwise SHA256(owner).
func DeriveAddress(programID, owner, purpose string) (string, uint8, error) {
	programBytes, err := base58.Decode(programID)
	if err != nil || len(programBytes) != 32 {
		return "", 0, fmt.Errorf("program id %q: %w", programID, domain.ErrInvalidRequest)
	}
	if owner == "" || purpose == "" {
		return "", 0, fmt.Errorf("owner and purpose required: %w", domain.ErrInvalidRequest)
	}

	seeds := [][]byte{[]byte(purpose), ownerSeed(owner)}
	addr, bump, ok := derivePDA(seeds, programBytes)
	if !ok {
		return "", 0, fmt.Errorf("no off-curve address for %s/%s: %w", purpose, owner, domain.ErrInternal)
	}
	return addr, bump, nil
}

// DeriveVaultAddress derives the vault address for an owner.
func DeriveVaultAddress(programID, owner string) (string, uint8, error) {
	return DeriveAddress(programID, owner, PurposeVault)
}

func ownerSeed(owner string) []byte {
	if b, err := base58.Decode(owner); err == nil && len(b) == 32 {
		return b
	}
	h := sha256.Sum256([]byte(owner))
	return h[:]
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// SHA256(seeds || bump || programID || "ProgramDerivedAddress"), bump 255..0,
// first result off the ed25519 curve.
func derivePDA(seeds [][]byte, programID []byte) (string, uint8, bool) {
	for b := 255; b >= 0; b-- {
		bump := byte(b)
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, pdaMarker...)

		hash := sha256.Sum256(data)
		if !IsOnCurve(hash[:]) {
			return base58.Encode(hash[:]), bump, true
		}
	}
	return "", 0, false
}

// IsOnCurve reports whether point is a valid compressed ed25519 point.
func IsOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
