// Package api exposes the vault workflows over HTTP.
package api

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ephemeral-vault/internal/observability"
	"ephemeral-vault/internal/orchestrator"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Options configures the API.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *log.Logger
	StartedAt    time.Time
}

// API serves the vault HTTP endpoints.
type API struct {
	orch      *orchestrator.Orchestrator
	logger    *log.Logger
	startedAt time.Time
}

// New creates an API.
func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	started := opts.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return &API{orch: opts.Orchestrator, logger: logger, startedAt: started}
}

// Routes returns the router.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.countRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", a.handleStatus)
	r.Handle("/metrics", observability.Handler())

	r.Route("/session", func(r chi.Router) {
		r.Post("/create", a.handleCreate)
		r.Post("/approve", a.handleApprove)
		r.Delete("/revoke", a.handleRevoke)
		r.Get("/{session_id}/status", a.handleSessionStatus)
		r.Post("/deposit", a.handleDeposit)
		r.Post("/auto-deposit", a.handleAutoDeposit)
		r.Post("/top-up", a.handleTopUp)
		r.Post("/trade", a.handleTrade)
		r.Post("/cleanup", a.handleCleanup)
		r.Post("/close", a.handleClose)
	})
	r.Get("/analytics/user/{wallet}", a.handleAnalytics)
	return r
}

// countRequests records every response by route pattern.
func (a *API) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RecordHTTPRequest(route, status)
	})
}

// caller derives the request origin from the peer address.
func caller(r *http.Request) orchestrator.Caller {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return orchestrator.Caller{Origin: host, UserAgent: r.UserAgent()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	StartedAt      time.Time `json:"started_at"`
	ActiveSessions int       `json:"active_sessions"`
	TrackedVaults  int       `json:"tracked_vaults"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := a.orch.Stats()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		Uptime:         time.Since(a.startedAt).Round(time.Second).String(),
		StartedAt:      a.startedAt,
		ActiveSessions: stats.ActiveSessions,
		TrackedVaults:  stats.TrackedVaults,
	})
}
