// Package security gates mutating requests: per-origin rate limiting,
// per-principal spending anomaly detection and device fingerprint binding.
package security

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ephemeral-vault/internal/clock"
	"ephemeral-vault/internal/domain"
)

// Defaults.
const (
	DefaultRateLimitPerMinute = 100
	DefaultAnomalyThreshold   = 2.5
	RateWindow                = 60 * time.Second
)

// RateLimitWindow is a fixed-window request counter for one origin.
type RateLimitWindow struct {
	Count   int
	ResetAt time.Time
}

// UserSecurityProfile tracks the spending baseline of one principal.
type UserSecurityProfile struct {
	AverageAmount float64 // exponential moving average
	LastSeenAt    time.Time
	Observations  uint64
}

// Options configures a Guard.
type Options struct {
	Clock              clock.Clock
	RateLimitPerMinute int
	AnomalyThreshold   float64
	Logger             *log.Logger
}

// Guard holds the rate-limit windows and security profiles.
// Each map has its own lock. Safe for concurrent use.
type Guard struct {
	clock     clock.Clock
	limit     int
	threshold float64
	logger    *log.Logger

	windowsMu sync.Mutex
	windows   map[string]*RateLimitWindow

	profilesMu sync.Mutex
	profiles   map[string]*UserSecurityProfile
}

// NewGuard creates a Guard.
func NewGuard(opts Options) *Guard {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	limit := opts.RateLimitPerMinute
	if limit == 0 {
		limit = DefaultRateLimitPerMinute
	}
	threshold := opts.AnomalyThreshold
	if threshold == 0 {
		threshold = DefaultAnomalyThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{
		clock:     clk,
		limit:     limit,
		threshold: threshold,
		logger:    logger,
		windows:   make(map[string]*RateLimitWindow),
		profiles:  make(map[string]*UserSecurityProfile),
	}
}

// Admit applies the configured rate limit to origin.
func (g *Guard) Admit(origin string) error {
	return g.CheckRateLimit(origin, g.limit)
}

// Screen fails with ErrSuspiciousActivity when amount is anomalous for
// principal under the configured threshold.
func (g *Guard) Screen(principal string, amount uint64) error {
	anomalous, err := g.DetectAnomaly(principal, amount, g.threshold)
	if err != nil {
		return err
	}
	if anomalous {
		return fmt.Errorf("amount %d for %s: %w", amount, principal, domain.ErrSuspiciousActivity)
	}
	return nil
}

// Stats returns the number of tracked windows and profiles.
func (g *Guard) Stats() (windows, profiles int) {
	g.windowsMu.Lock()
	windows = len(g.windows)
	g.windowsMu.Unlock()

	g.profilesMu.Lock()
	profiles = len(g.profiles)
	g.profilesMu.Unlock()
	return windows, profiles
}

// EvictIdle drops windows that have rolled over more than maxIdle ago and
// profiles not seen for maxIdle. Returns the number of removed entries.
func (g *Guard) EvictIdle(maxIdle time.Duration) (windows, profiles int) {
	now := g.clock.Now()

	g.windowsMu.Lock()
	for key, w := range g.windows {
		if now.Sub(w.ResetAt) >= maxIdle {
			delete(g.windows, key)
			windows++
		}
	}
	g.windowsMu.Unlock()

	g.profilesMu.Lock()
	for key, p := range g.profiles {
		if now.Sub(p.LastSeenAt) >= maxIdle {
			delete(g.profiles, key)
			profiles++
		}
	}
	g.profilesMu.Unlock()
	return windows, profiles
}

// RunJanitor calls EvictIdle every interval until ctx is cancelled.
func (g *Guard) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w, p := g.EvictIdle(maxIdle)
			if w > 0 || p > 0 {
				g.logger.Printf("evicted %d rate-limit windows, %d profiles", w, p)
			}
		}
	}
}
