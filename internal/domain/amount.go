package domain

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var maxLamports = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// FormatSOL renders a lamport amount as a SOL decimal string.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).String()
}

// ParseSOL converts a SOL decimal string to lamports.
// Fractions below one lamport are rejected.
func ParseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	l := d.Shift(9)
	if l.IsNegative() || !l.Equal(l.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if l.GreaterThan(maxLamports) {
		return 0, ErrOverflow
	}
	return l.BigInt().Uint64(), nil
}
