package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultLimiterIdleTTL is how long an unused client limiter is kept.
	DefaultLimiterIdleTTL = 10 * time.Minute
	limiterSweepInterval  = time.Minute
)

// RateLimit is a token bucket per client address. A zero RPS disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one limiter per client address and drops the ones that
// have been idle longer than the TTL.
type RateLimiter struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	cfg       RateLimit
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter returns nil when limiting is disabled.
func NewRateLimiter(cfg RateLimit) *RateLimiter {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		m:       map[string]*limiterEntry{},
		cfg:     cfg,
		idleTTL: DefaultLimiterIdleTTL,
		now:     time.Now,
	}
}

func (p *RateLimiter) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.sweepLocked(now)
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.cfg.RPS), p.cfg.Burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

func (p *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < limiterSweepInterval {
		return
	}
	p.lastSweep = now
	for key, e := range p.m {
		if now.Sub(e.lastSeen) > p.idleTTL {
			delete(p.m, key)
		}
	}
}

// Len returns the number of tracked clients.
func (p *RateLimiter) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Allow reports whether key may make another request now.
func (p *RateLimiter) Allow(key string) bool {
	return p.get(key).Allow()
}

// Middleware limits requests for which applies returns true. Clients are
// keyed by c.RealIP, so the echo IPExtractor decides which headers count.
func (p *RateLimiter) Middleware(applies func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if applies != nil && !applies(c) {
				return next(c)
			}
			if !p.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"success": false,
					"error":   "too many requests",
				})
			}
			return next(c)
		}
	}
}
