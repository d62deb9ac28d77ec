// Package monitor tracks vault activity and flags abandoned vaults.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

// TrackedVault is the monitor's view of one vault.
type TrackedVault struct {
	VaultAddress   string
	SessionID      string
	Balance        uint64
	LastActivityAt time.Time
}

// Monitor records last activity and last known balance per vault address.
type Monitor struct {
	mu     sync.RWMutex
	clock  clock.Clock
	vaults map[string]*TrackedVault
}

// New creates a monitor. A nil clock uses the real clock.
func New(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Monitor{
		clock:  clk,
		vaults: make(map[string]*TrackedVault),
	}
}

// Track starts tracking a vault, replacing any existing entry.
func (m *Monitor) Track(vaultAddress, sessionID string, balance uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vaults[vaultAddress] = &TrackedVault{
		VaultAddress:   vaultAddress,
		SessionID:      sessionID,
		Balance:        balance,
		LastActivityAt: m.clock.Now(),
	}
}

// UpdateBalance records a new balance and counts as activity.
func (m *Monitor) UpdateBalance(vaultAddress string, balance uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultAddress]
	if !ok {
		return fmt.Errorf("vault %s: %w", vaultAddress, domain.ErrNotFound)
	}
	v.Balance = balance
	v.LastActivityAt = m.clock.Now()
	return nil
}

// Touch marks activity without changing the balance.
// It reports whether the vault is tracked.
func (m *Monitor) Touch(vaultAddress string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaults[vaultAddress]
	if ok {
		v.LastActivityAt = m.clock.Now()
	}
	return ok
}

// GetBalance returns the last recorded balance.
func (m *Monitor) GetBalance(vaultAddress string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[vaultAddress]
	if !ok {
		return 0, false
	}
	return v.Balance, true
}

// Get returns a copy of the tracked entry.
func (m *Monitor) Get(vaultAddress string) (TrackedVault, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vaults[vaultAddress]
	if !ok {
		return TrackedVault{}, false
	}
	return *v, true
}

// Untrack stops tracking a vault. Unknown addresses are ignored.
func (m *Monitor) Untrack(vaultAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vaults, vaultAddress)
}

// IsTracked reports whether vaultAddress is tracked.
func (m *Monitor) IsTracked(vaultAddress string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.vaults[vaultAddress]
	return ok
}

// ListActive returns all tracked vault addresses in sorted order.
func (m *Monitor) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vaults))
	for addr := range m.vaults {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// DetectAbandoned returns tracked vaults idle for longer than threshold, sorted.
// A zero threshold flags every vault with any elapsed time since its last activity.
func (m *Monitor) DetectAbandoned(threshold time.Duration) []string {
	now := m.clock.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for addr, v := range m.vaults {
		if now.Sub(v.LastActivityAt) > threshold {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked vaults.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vaults)
}
