package api

import (
	"errors"
	"net/http"

	"ephemeral-vault/internal/domain"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Code  int    `json:"code"`
}

var statusByKind = map[string]int{
	"InvalidAmount":         http.StatusBadRequest,
	"InvalidDuration":       http.StatusBadRequest,
	"InsufficientFunds":     http.StatusBadRequest,
	"InsufficientBalance":   http.StatusBadRequest,
	"InvalidRequest":        http.StatusBadRequest,
	"InvalidSession":        http.StatusBadRequest,
	"SessionExpired":        http.StatusUnauthorized,
	"Unauthorized":          http.StatusUnauthorized,
	"SuspiciousActivity":    http.StatusForbidden,
	"InvalidDelegate":       http.StatusForbidden,
	"DelegationNotActive":   http.StatusForbidden,
	"ApprovedLimitExceeded": http.StatusForbidden,
	"NotFound":              http.StatusNotFound,
	"VaultExists":           http.StatusConflict,
	"SessionNotExpired":     http.StatusConflict,
	"VaultNotCleaned":       http.StatusConflict,
	"VaultInactive":         http.StatusConflict,
	"RateLimitExceeded":     http.StatusTooManyRequests,
	"SessionLimitReached":   http.StatusTooManyRequests,
}

// statusOf maps an error to its HTTP status. Unlisted kinds are 500.
func statusOf(err error) int {
	if code, ok := statusByKind[domain.Kind(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		a.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, code, ErrorResponse{
		Error: domain.Describe(err),
		Kind:  domain.Kind(err),
		Code:  code,
	})
}

// badRequest reports an undecodable body.
func (a *API) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "request body too large",
			Kind:  domain.Kind(domain.ErrInvalidRequest),
			Code:  http.StatusRequestEntityTooLarge,
		})
		return
	}
	a.writeError(w, r, domain.ErrInvalidRequest)
}
