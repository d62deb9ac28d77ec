package security

import (
	"fmt"

	"ephemeral-vault/internal/domain"
)

// Alpha is the smoothing factor of the spending moving average.
const Alpha = 0.3

// DetectAnomaly folds amount into principal's moving average
// (avg' = Alpha*amount + (1-Alpha)*avg, seeded with the first amount) and
// reports whether amount > avg' * threshold. The first observation of a
// principal is never anomalous.
func (g *Guard) DetectAnomaly(principal string, amount uint64, threshold float64) (bool, error) {
	if principal == "" {
		return false, fmt.Errorf("empty principal: %w", domain.ErrInvalidRequest)
	}
	now := g.clock.Now()
	x := float64(amount)

	g.profilesMu.Lock()
	defer g.profilesMu.Unlock()

	p, ok := g.profiles[principal]
	if !ok {
		g.profiles[principal] = &UserSecurityProfile{
			AverageAmount: x,
			LastSeenAt:    now,
			Observations:  1,
		}
		return false, nil
	}

	p.AverageAmount = Alpha*x + (1-Alpha)*p.AverageAmount
	p.LastSeenAt = now
	p.Observations++
	return x > p.AverageAmount*threshold, nil
}

// Profile returns a copy of principal's profile.
func (g *Guard) Profile(principal string) (UserSecurityProfile, bool) {
	g.profilesMu.Lock()
	defer g.profilesMu.Unlock()
	p, ok := g.profiles[principal]
	if !ok {
		return UserSecurityProfile{}, false
	}
	return *p, true
}
