package security

import (
	"fmt"

	"ephemeral-vault/internal/domain"
)

// CheckRateLimit counts a request from origin against a fixed 60s window.
// The window opens on first sight of origin and resets once it elapses.
// Fails with ErrRateLimitExceeded once the count exceeds limit.
// An empty origin or non-positive limit is rejected.
func (g *Guard) CheckRateLimit(origin string, limit int) error {
	if origin == "" {
		return fmt.Errorf("empty origin: %w", domain.ErrInvalidRequest)
	}
	now := g.clock.Now()

	g.windowsMu.Lock()
	defer g.windowsMu.Unlock()

	w, ok := g.windows[origin]
	if !ok {
		w = &RateLimitWindow{ResetAt: now.Add(RateWindow)}
		g.windows[origin] = w
	} else if !now.Before(w.ResetAt) {
		w.Count = 0
		w.ResetAt = now.Add(RateWindow)
	}
	w.Count++

	if limit <= 0 || w.Count > limit {
		return fmt.Errorf("origin %s: %d requests in window: %w", origin, w.Count, domain.ErrRateLimitExceeded)
	}
	return nil
}

// Window returns a copy of the current window for origin.
func (g *Guard) Window(origin string) (RateLimitWindow, bool) {
	g.windowsMu.Lock()
	defer g.windowsMu.Unlock()
	w, ok := g.windows[origin]
	if !ok {
		return RateLimitWindow{}, false
	}
	return *w, true
}
