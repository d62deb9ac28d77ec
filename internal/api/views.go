package api

import (
	"encoding/json"
	"time"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/ledger"
	"ephemeral-vault/internal/orchestrator"
)

// Amount is a lamport value rendered with its SOL equivalent.
type Amount uint64

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Lamports uint64 `json:"lamports"`
		SOL      string `json:"sol"`
	}{uint64(a), domain.FormatSOL(uint64(a))})
}

// SessionView is the public form of a session. The sealed secret and
// the device fingerprint are never exposed.
type SessionView struct {
	ID                string    `json:"session_id"`
	Owner             string    `json:"owner"`
	VaultAddress      string    `json:"vault_address"`
	EphemeralIdentity string    `json:"ephemeral_identity"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	IsActive          bool      `json:"is_active"`
	ApprovedLimit     Amount    `json:"approved_limit"`
	UsedAmount        Amount    `json:"used_amount"`
	AvailableAmount   Amount    `json:"available_amount"`
	TotalDeposited    Amount    `json:"total_deposited"`
}

func sessionView(s *domain.Session) *SessionView {
	if s == nil {
		return nil
	}
	return &SessionView{
		ID:                s.ID,
		Owner:             s.Owner,
		VaultAddress:      s.VaultAddress,
		EphemeralIdentity: s.EphemeralIdentity,
		CreatedAt:         s.CreatedAt,
		ExpiresAt:         s.ExpiresAt,
		LastActivityAt:    s.LastActivityAt,
		IsActive:          s.IsActive,
		ApprovedLimit:     Amount(s.ApprovedLimit),
		UsedAmount:        Amount(s.UsedAmount),
		AvailableAmount:   Amount(s.AvailableAmount),
		TotalDeposited:    Amount(s.TotalDeposited),
	}
}

// VaultView is the public form of a vault.
type VaultView struct {
	Address           string    `json:"address"`
	Bump              uint8     `json:"bump"`
	Owner             string    `json:"owner"`
	EphemeralIdentity string    `json:"ephemeral_identity,omitempty"`
	Status            string    `json:"status"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ApprovedLimit     Amount    `json:"approved_limit"`
	UsedAmount        Amount    `json:"used_amount"`
	AvailableAmount   Amount    `json:"available_amount"`
	TotalDeposited    Amount    `json:"total_deposited"`
	TotalReturned     Amount    `json:"total_returned"`
}

func vaultView(v *domain.Vault) *VaultView {
	if v == nil {
		return nil
	}
	return &VaultView{
		Address:           v.ID,
		Bump:              v.Bump,
		Owner:             v.Owner,
		EphemeralIdentity: v.EphemeralIdentity,
		Status:            v.Status.String(),
		IsActive:          v.IsActive,
		CreatedAt:         v.CreatedAt,
		ExpiresAt:         v.ExpiresAt,
		LastActivityAt:    v.LastActivityAt,
		ApprovedLimit:     Amount(v.ApprovedLimit),
		UsedAmount:        Amount(v.UsedAmount),
		AvailableAmount:   Amount(v.AvailableAmount),
		TotalDeposited:    Amount(v.TotalDeposited),
		TotalReturned:     Amount(v.TotalReturned),
	}
}

// DelegationView is the public form of a delegation.
type DelegationView struct {
	ID               string     `json:"delegation_id"`
	DelegateIdentity string     `json:"delegate"`
	ApprovedAt       time.Time  `json:"approved_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	IsActive         bool       `json:"is_active"`
}

func delegationView(d *domain.Delegation) *DelegationView {
	if d == nil {
		return nil
	}
	return &DelegationView{
		ID:               d.ID,
		DelegateIdentity: d.DelegateIdentity,
		ApprovedAt:       d.ApprovedAt,
		RevokedAt:        d.RevokedAt,
		IsActive:         d.IsActive,
	}
}

// ReceiptView reports a ledger mutation.
type ReceiptView struct {
	EventID  string     `json:"event_id,omitempty"`
	Sequence uint64     `json:"sequence,omitempty"`
	Kind     string     `json:"kind,omitempty"`
	Amount   Amount     `json:"amount"`
	Fee      Amount     `json:"fee"`
	Returned Amount     `json:"returned"`
	Vault    *VaultView `json:"vault"`
}

func receiptView(r *ledger.Receipt) *ReceiptView {
	if r == nil {
		return nil
	}
	v := &ReceiptView{Returned: Amount(r.Returned), Vault: vaultView(r.Vault)}
	if e := r.Event; e != nil {
		v.EventID = e.EventID
		v.Sequence = e.Sequence
		v.Kind = string(e.Kind)
		v.Amount = Amount(e.Amount)
		v.Fee = Amount(e.Fee)
	}
	return v
}

// StatusView is the response of the session status endpoint.
type StatusView struct {
	Session         *SessionView    `json:"session"`
	Vault           *VaultView      `json:"vault"`
	Delegation      *DelegationView `json:"delegation,omitempty"`
	NearExpiry      bool            `json:"near_expiry"`
	DelegationStale bool            `json:"delegation_stale"`
	Tracked         bool            `json:"tracked"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
}

func statusView(st *orchestrator.Status) *StatusView {
	return &StatusView{
		Session:         sessionView(st.Session),
		Vault:           vaultView(st.Vault),
		Delegation:      delegationView(st.Delegation),
		NearExpiry:      st.NearExpiry,
		DelegationStale: st.DelegationStale,
		Tracked:         st.Tracked,
		LastActivityAt:  st.LastActivityAt,
	}
}

// AnalyticsView is the response of the analytics endpoint.
type AnalyticsView struct {
	Owner                      string     `json:"user_wallet"`
	TotalSessions              int        `json:"total_sessions"`
	ActiveSessions             int        `json:"active_sessions"`
	TotalFundsProcessed        Amount     `json:"total_funds_processed"`
	AverageSessionDurationSecs float64    `json:"average_session_duration_secs"`
	SuccessRate                *float64   `json:"success_rate"`
	LastActivity               *time.Time `json:"last_activity"`
}

func analyticsView(a *orchestrator.Analytics) *AnalyticsView {
	return &AnalyticsView{
		Owner:                      a.Owner,
		TotalSessions:              a.TotalSessions,
		ActiveSessions:             a.ActiveSessions,
		TotalFundsProcessed:        Amount(a.TotalFundsProcessed),
		AverageSessionDurationSecs: a.AverageSessionDuration.Seconds(),
		SuccessRate:                a.SuccessRate,
		LastActivity:               a.LastActivity,
	}
}
