package idhash

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/mr-tron/base58"

	"ephemeral-vault/internal/domain"
)

// System program id is 32 zero bytes.
const testProgramID = "11111111111111111111111111111111"

func TestDeriveAddress(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pubKey := base58.Encode(pub)

	tests := []struct {
		name    string
		owner   string
		purpose string
	}{
		{"base58 owner", pubKey, PurposeVault},
		{"free-form owner", "user@example.com", PurposeVault},
		{"delegation purpose", pubKey, PurposeDelegation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, bump, err := DeriveAddress(testProgramID, tt.owner, tt.purpose)
			if err != nil {
				t.Fatalf("DeriveAddress() error = %v", err)
			}

			raw, err := base58.Decode(addr)
			if err != nil || len(raw) != 32 {
				t.Fatalf("address %q is not a 32-byte base58 key", addr)
			}
			if IsOnCurve(raw) {
				t.Errorf("address %q is on the ed25519 curve", addr)
			}

			addr2, bump2, _ := DeriveAddress(testProgramID, tt.owner, tt.purpose)
			if addr != addr2 || bump != bump2 {
				t.Errorf("DeriveAddress() not deterministic: %s/%d != %s/%d", addr, bump, addr2, bump2)
			}
		})
	}
}

func TestDeriveAddress_Distinct(t *testing.T) {
	a, _, _ := DeriveAddress(testProgramID, "alice", PurposeVault)
	b, _, _ := DeriveAddress(testProgramID, "bob", PurposeVault)
	c, _, _ := DeriveAddress(testProgramID, "alice", PurposeDelegation)

	if a == b {
		t.Error("different owners produced the same address")
	}
	if a == c {
		t.Error("different purposes produced the same address")
	}
}

func TestDeriveAddress_InvalidProgram(t *testing.T) {
	tests := []struct {
		name      string
		programID string
		owner     string
	}{
		{"not base58", "0OIl", "alice"},
		{"wrong length", "abc", "alice"},
		{"empty owner", testProgramID, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DeriveAddress(tt.programID, tt.owner, PurposeVault)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("DeriveAddress() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestIsOnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !IsOnCurve(pub) {
		t.Error("ed25519 public key reported off curve")
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Error("short input reported on curve")
	}
}
