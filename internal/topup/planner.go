// Package topup sizes vault deposits against expected fee load.
// All functions are pure; amounts are lamports.
package topup

import (
	"fmt"
	"math"
	"math/bits"

	"ephemeral-vault/internal/domain"
)

// Default fee parameters.
const (
	DefaultBaseFee     = 5000
	DefaultSizeFeeRate = 100
	sizeUnit           = 1_000_000
)

// Priority levels.
const (
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

// Planner computes top-up amounts from a base fee and a per-size rate.
type Planner struct {
	BaseFee     uint64
	SizeFeeRate uint64
}

// NewPlanner creates a Planner. Zero arguments select the defaults.
func NewPlanner(baseFee, sizeFeeRate uint64) Planner {
	if baseFee == 0 {
		baseFee = DefaultBaseFee
	}
	if sizeFeeRate == 0 {
		sizeFeeRate = DefaultSizeFeeRate
	}
	return Planner{BaseFee: baseFee, SizeFeeRate: sizeFeeRate}
}

// DepositForFee returns fee plus a 150% buffer: fee + round(fee*1.5).
// Fails with ErrInsufficientFunds only on overflow.
func DepositForFee(fee uint64) (uint64, error) {
	// round(fee*1.5) == fee + ceil(fee/2)
	buffer, c1 := bits.Add64(fee, fee/2+fee%2, 0)
	total, c2 := bits.Add64(fee, buffer, 0)
	if c1|c2 != 0 {
		return 0, fmt.Errorf("deposit for fee %d: %w", fee, domain.ErrInsufficientFunds)
	}
	return total, nil
}

// ShouldTopUp reports whether balance < base_fee * pendingOps * 2.
func (p Planner) ShouldTopUp(balance, pendingOps uint64) bool {
	return balance < satMul(satMul(p.BaseFee, pendingOps), 2)
}

// OptimalTopUp returns max(base_fee * pendingOps * 3 - balance, 0).
func (p Planner) OptimalTopUp(balance, pendingOps uint64) uint64 {
	target := satMul(satMul(p.BaseFee, pendingOps), 3)
	if balance >= target {
		return 0
	}
	return target - balance
}

// EstimateTradeFee returns base_fee + max(tradeSize/1e6, 1) * size_fee_rate,
// saturating at the maximum amount.
func (p Planner) EstimateTradeFee(tradeSize uint64) uint64 {
	units := max(tradeSize/sizeUnit, 1)
	return satAdd(p.BaseFee, satMul(units, p.SizeFeeRate))
}

// PriorityFee scales baseFee by the level multiplier: 1x, 1.5x, 3x, else 5x.
func PriorityFee(baseFee uint64, level int) uint64 {
	switch level {
	case PriorityNormal:
		return baseFee
	case PriorityHigh:
		return satAdd(baseFee, baseFee/2)
	case PriorityUrgent:
		return satMul(baseFee, 3)
	default:
		return satMul(baseFee, 5)
	}
}

func satAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func satMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
