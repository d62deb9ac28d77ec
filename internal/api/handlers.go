package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ephemeral-vault/internal/orchestrator"
)

type createRequest struct {
	UserWallet     string `json:"user_wallet"`
	ApprovedAmount uint64 `json:"approved_amount"` // lamports
	DurationSecs   int64  `json:"duration_secs,omitempty"`
}

// CreateResponse is returned by POST /session/create.
type CreateResponse struct {
	Session    *SessionView    `json:"session"`
	Vault      *VaultView      `json:"vault"`
	Delegation *DelegationView `json:"delegation"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	info, err := a.orch.OpenSession(r.Context(), orchestrator.OpenSessionRequest{
		Owner:         req.UserWallet,
		ApprovedLimit: req.ApprovedAmount,
		Duration:      time.Duration(req.DurationSecs) * time.Second,
		Caller:        caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{
		Session:    sessionView(info.Session),
		Vault:      vaultView(info.Vault),
		Delegation: delegationView(info.Delegation),
	})
}

type sessionBody struct {
	SessionID string `json:"session_id"`
}

type approveRequest struct {
	SessionID string `json:"session_id"`
	Force     bool   `json:"force,omitempty"`
}

// ApproveResponse is returned by POST /session/approve.
type ApproveResponse struct {
	Delegation *DelegationView `json:"delegation"`
	Renewed    bool            `json:"renewed"`
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.orch.RenewDelegation(r.Context(), orchestrator.RenewRequest{
		SessionID: req.SessionID,
		Force:     req.Force,
		Caller:    caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveResponse{Delegation: delegationView(res.Delegation), Renewed: res.Renewed})
}

// ReturnResponse reports funds handed back to the owner.
type ReturnResponse struct {
	Returned Amount     `json:"returned"`
	Vault    *VaultView `json:"vault"`
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.orch.RevokeSession(r.Context(), orchestrator.SessionRequest{SessionID: req.SessionID, Caller: caller(r)})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReturnResponse{Returned: Amount(res.Returned), Vault: vaultView(res.Vault)})
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.orch.SessionStatus(r.Context(), orchestrator.SessionRequest{
		SessionID: chi.URLParam(r, "session_id"),
		Caller:    caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(st))
}

type depositRequest struct {
	SessionID string `json:"session_id"`
	Amount    uint64 `json:"amount"` // lamports
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	rec, err := a.orch.Deposit(r.Context(), orchestrator.DepositRequest{
		SessionID: req.SessionID,
		Amount:    req.Amount,
		Caller:    caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(rec))
}

type autoDepositRequest struct {
	SessionID   string `json:"session_id"`
	FeeEstimate uint64 `json:"fee_estimate"`
}

func (a *API) handleAutoDeposit(w http.ResponseWriter, r *http.Request) {
	var req autoDepositRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	rec, err := a.orch.AutoDeposit(r.Context(), orchestrator.AutoDepositRequest{
		SessionID:   req.SessionID,
		FeeEstimate: req.FeeEstimate,
		Caller:      caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(rec))
}

type topUpRequest struct {
	SessionID  string `json:"session_id"`
	PendingOps uint64 `json:"pending_ops"`
}

// TopUpResponse is returned by POST /session/top-up.
type TopUpResponse struct {
	Needed  bool         `json:"needed"`
	Amount  Amount       `json:"amount"`
	Receipt *ReceiptView `json:"receipt,omitempty"`
	Vault   *VaultView   `json:"vault"`
}

func (a *API) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.orch.TopUp(r.Context(), orchestrator.TopUpRequest{
		SessionID:  req.SessionID,
		PendingOps: req.PendingOps,
		Caller:     caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TopUpResponse{
		Needed:  res.Needed,
		Amount:  Amount(res.Amount),
		Receipt: receiptView(res.Receipt),
		Vault:   vaultView(res.Vault),
	})
}

type tradeRequest struct {
	SessionID string `json:"session_id"`
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// TradeResponse is returned by POST /session/trade.
type TradeResponse struct {
	*ReceiptView
	Signature string `json:"signature"`
}

func (a *API) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.orch.ExecuteTrade(r.Context(), orchestrator.TradeRequest{
		SessionID: req.SessionID,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Priority:  req.Priority,
		Caller:    caller(r),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TradeResponse{ReceiptView: receiptView(res.Receipt), Signature: res.Signature})
}

// CleanupResponse is returned by POST /session/cleanup.
type CleanupResponse struct {
	Returned       Amount     `json:"returned"`
	AlreadyCleaned bool       `json:"already_cleaned"`
	Vault          *VaultView `json:"vault"`
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.orch.CleanupVault(r.Context(), orchestrator.SessionRequest{SessionID: req.SessionID, Caller: caller(r)})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{
		Returned:       Amount(res.Returned),
		AlreadyCleaned: res.AlreadyCleaned,
		Vault:          vaultView(res.Vault),
	})
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	var req sessionBody
	if err := readJSON(w, r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	v, err := a.orch.CloseVault(r.Context(), orchestrator.SessionRequest{SessionID: req.SessionID, Caller: caller(r)})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultView(v))
}

func (a *API) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	res, err := a.orch.Analytics(r.Context(), chi.URLParam(r, "wallet"), caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analyticsView(res))
}
