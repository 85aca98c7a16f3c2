package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier classifies routes by how aggressively they must be throttled.
// Credential-guessing surfaces get the tightest budget.
type Tier string

const (
	// TierSensitive covers endpoints that accept or mint credentials.
	TierSensitive Tier = "sensitive"
	// TierAuth covers the remaining auth endpoints.
	TierAuth Tier = "auth"
	// TierGeneral covers everything else.
	TierGeneral Tier = "general"
)

// TierLimit is the token bucket configuration for one tier.
type TierLimit struct {
	RPS   rate.Limit
	Burst int
}

// DefaultTierLimits returns the standard per-client budgets.
func DefaultTierLimits() map[Tier]TierLimit {
	return map[Tier]TierLimit{
		TierSensitive: {RPS: 2, Burst: 3},
		TierAuth:      {RPS: 5, Burst: 5},
		TierGeneral:   {RPS: 10, Burst: 20},
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP and tier using token buckets.
// State is process local; behind a load balancer each instance enforces its
// own budget.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[Tier]TierLimit
	buckets map[string]*bucket

	// idleTTL controls how long an idle client's bucket is retained.
	idleTTL time.Duration
}

// NewRateLimiter creates a rate limiter with the given per-tier budgets. Nil
// limits fall back to DefaultTierLimits.
func NewRateLimiter(limits map[Tier]TierLimit) *RateLimiter {
	if limits == nil {
		limits = DefaultTierLimits()
	}
	return &RateLimiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
		idleTTL: 10 * time.Minute,
	}
}

// Limit returns middleware that enforces the tier's budget per client IP.
// Unknown tiers fall back to TierGeneral.
func (rl *RateLimiter) Limit(tier Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(tier, requestIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"code":    "RATE_LIMITED",
					"message": "too many requests, slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(tier Tier, ip string) bool {
	limit, ok := rl.limits[tier]
	if !ok {
		limit = rl.limits[TierGeneral]
		if limit.Burst == 0 {
			return true
		}
	}

	key := string(tier) + "|" + ip

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit.RPS, limit.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	return b.limiter.Allow()
}

// Start runs the idle bucket sweeper until ctx is cancelled.
func (rl *RateLimiter) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := time.Now().Add(-rl.idleTTL)

	rl.mu.Lock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
	rl.mu.Unlock()
}

// requestIP extracts the client address, trusting proxy headers when present.
func requestIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
