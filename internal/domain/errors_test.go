package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"sentinel", ErrInsufficientBalance, "InsufficientBalance"},
		{"wrapped", fmt.Errorf("debit vault abc: %w", ErrOverflow), "Overflow"},
		{"crypto", fmt.Errorf("open: %w: short payload", ErrCrypto), "CryptoError"},
		{"unknown", errors.New("boom"), "Internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	err := fmt.Errorf("cleanup vault v1: %w", ErrSessionNotExpired)
	if got := Describe(err); got != "session not yet expired" {
		t.Errorf("Describe() = %q", got)
	}
	if got := Describe(errors.New("db down")); got != "internal error" {
		t.Errorf("Describe(unknown) = %q", got)
	}
}

func TestKindsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range kinds {
		if seen[k.kind] {
			t.Errorf("duplicate kind %q", k.kind)
		}
		seen[k.kind] = true
	}
}
