package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"time"

	"ephemeral-vault/internal/domain"
)

// Analytics summarizes an owner's sessions.
type Analytics struct {
	Owner                  string
	TotalSessions          int
	ActiveSessions         int
	TotalFundsProcessed    uint64 // confirmed deposits
	AverageSessionDuration time.Duration
	SuccessRate            *float64 // confirmed / (confirmed + failed); nil without finalized transactions
	LastActivity           *time.Time
}

// Analytics computes session statistics for owner.
func (o *Orchestrator) Analytics(ctx context.Context, owner string, c Caller) (*Analytics, error) {
	const op = "analytics"
	if err := o.admit(op, c); err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, fmt.Errorf("owner required: %w", domain.ErrInvalidRequest)
	}

	sessions, err := o.sessions.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", owner, err)
	}

	now := o.clock.Now()
	a := &Analytics{Owner: owner, TotalSessions: len(sessions)}
	var totalDuration time.Duration
	var confirmed, failed int

	for _, s := range sessions {
		if s.IsActive && s.ExpiresAt.After(now) {
			a.ActiveSessions++
		}
		totalDuration += s.ExpiresAt.Sub(s.CreatedAt)
		if a.LastActivity == nil || s.LastActivityAt.After(*a.LastActivity) {
			last := s.LastActivityAt
			a.LastActivity = &last
		}

		txs, err := o.transactions.ListBySession(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list transactions of %s: %w", s.ID, err)
		}
		for _, tx := range txs {
			switch tx.Status {
			case domain.TransactionConfirmed:
				confirmed++
				if tx.Kind == domain.TransactionDeposit {
					sum, carry := bits.Add64(a.TotalFundsProcessed, tx.Amount, 0)
					if carry != 0 {
						sum = math.MaxUint64
					}
					a.TotalFundsProcessed = sum
				}
			case domain.TransactionFailed:
				failed++
			}
		}
	}

	if len(sessions) > 0 {
		a.AverageSessionDuration = totalDuration / time.Duration(len(sessions))
	}
	if finalized := confirmed + failed; finalized > 0 {
		rate := float64(confirmed) / float64(finalized)
		a.SuccessRate = &rate
	}
	return a, nil
}
