// Package delegation grants, revokes and verifies the right of one
// ephemeral identity to spend from a vault.
package delegation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

// Authority keeps the delegation history of every vault.
// At most one delegation per vault is active; records are never removed.
// Safe for concurrent use.
type Authority struct {
	mu      sync.RWMutex
	clock   clock.Clock
	history map[string][]*domain.Delegation // vault id -> records, oldest first
}

// NewAuthority creates an empty Authority.
func NewAuthority(clk clock.Clock) *Authority {
	if clk == nil {
		clk = clock.Real()
	}
	return &Authority{
		clock:   clk,
		history: make(map[string][]*domain.Delegation),
	}
}

// Approve grants delegate the right to spend from v, revoking any
// previously active delegation on the same vault first.
// Returns ErrVaultInactive or ErrSessionExpired for a closed or expired vault.
func (a *Authority) Approve(v *domain.Vault, delegate string) (*domain.Delegation, error) {
	if delegate == "" {
		return nil, fmt.Errorf("approve on %s: %w", v.ID, domain.ErrInvalidDelegate)
	}
	now := a.clock.Now()
	if !v.IsActive {
		return nil, fmt.Errorf("approve on %s: %w", v.ID, domain.ErrVaultInactive)
	}
	if v.Expired(now) {
		return nil, fmt.Errorf("approve on %s: %w", v.ID, domain.ErrSessionExpired)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.revokeLocked(v.ID, now)
	d := &domain.Delegation{
		ID:               uuid.NewString(),
		VaultID:          v.ID,
		DelegateIdentity: delegate,
		ApprovedAt:       now,
		IsActive:         true,
	}
	a.history[v.ID] = append(a.history[v.ID], d)
	return d.Clone(), nil
}

// Restore appends a persisted delegation to the history of its vault.
// Fails with ErrInvalidDelegate once the vault has an active delegation.
func (a *Authority) Restore(d *domain.Delegation) error {
	if d == nil || d.VaultID == "" || d.DelegateIdentity == "" {
		return domain.ErrInvalidDelegate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeLocked(d.VaultID) != nil {
		return fmt.Errorf("restore on %s: %w", d.VaultID, domain.ErrInvalidDelegate)
	}
	a.history[d.VaultID] = append(a.history[d.VaultID], d.Clone())
	return nil
}

// Revoke deactivates the active delegation of a vault.
// Returns the revoked record, or false when none was active.
func (a *Authority) Revoke(vaultID string) (*domain.Delegation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.revokeLocked(vaultID, a.clock.Now())
	if d == nil {
		return nil, false
	}
	return d.Clone(), true
}

func (a *Authority) revokeLocked(vaultID string, now time.Time) *domain.Delegation {
	d := a.activeLocked(vaultID)
	if d == nil {
		return nil
	}
	revokedAt := now
	d.RevokedAt = &revokedAt
	d.IsActive = false
	return d
}

func (a *Authority) activeLocked(vaultID string) *domain.Delegation {
	records := a.history[vaultID]
	if len(records) == 0 {
		return nil
	}
	last := records[len(records)-1]
	if !last.IsActive {
		return nil
	}
	return last
}

// Active returns the active delegation of a vault, if any.
func (a *Authority) Active(vaultID string) (*domain.Delegation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d := a.activeLocked(vaultID)
	if d == nil {
		return nil, false
	}
	return d.Clone(), true
}

// History returns every delegation ever approved on a vault, oldest first.
func (a *Authority) History(vaultID string) []*domain.Delegation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	records := a.history[vaultID]
	result := make([]*domain.Delegation, len(records))
	for i, d := range records {
		result[i] = d.Clone()
	}
	return result
}

// Verify checks that the active delegation of a vault belongs to identity.
func (a *Authority) Verify(vaultID, identity string) error {
	d, ok := a.Active(vaultID)
	if !ok {
		return fmt.Errorf("verify on %s: %w", vaultID, domain.ErrInvalidSession)
	}
	return Verify(d, identity)
}

// NeedsRenewal reports whether d is older than maxAge.
func (a *Authority) NeedsRenewal(d *domain.Delegation, maxAge time.Duration) bool {
	return NeedsRenewal(d, maxAge, a.clock.Now())
}

// Verify fails with ErrInvalidSession if d is not active or already revoked,
// and with ErrUnauthorized if d belongs to another identity.
func Verify(d *domain.Delegation, identity string) error {
	if d == nil || !d.IsActive || d.RevokedAt != nil {
		return domain.ErrInvalidSession
	}
	if d.DelegateIdentity != identity {
		return domain.ErrUnauthorized
	}
	return nil
}

// NeedsRenewal reports whether now - d.ApprovedAt > maxAge.
func NeedsRenewal(d *domain.Delegation, maxAge time.Duration, now time.Time) bool {
	return now.Sub(d.ApprovedAt) > maxAge
}
