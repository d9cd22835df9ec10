// Package ratelimit implements a token bucket limiter for per-tenant
// request rate control.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the steady-state requests per second granted to each
	// tenant. Zero or negative disables limiting.
	RPS float64
	// Burst is the bucket depth per tenant.
	Burst int
}

// Limiter manages one token bucket per tenant.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    burst,
	}
}

// Allow reports whether the tenant may proceed right now. Callers turn
// a refusal into an immediate 429 rather than queueing the request.
func (l *Limiter) Allow(tenantID string) bool {
	return l.bucket(tenantID).Allow()
}

func (l *Limiter) bucket(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[tenantID]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[tenantID] = limiter
	}
	return limiter
}
