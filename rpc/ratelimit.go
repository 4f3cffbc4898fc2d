package rpc

import (
	"sync"
	"time"

	"github.com/raoulbia-ai/claude-recall/clock"
)

// RateLimiter enforces spec.md §3.5/§4.5's per-session fixed-window budget:
// at most Max requests per window, per session id, where a window starts at
// the first request after the previous window expired and lasts Window.
// Windows are fixed, not sliding: a burst straddling a window boundary can
// pass up to 2*Max requests in less than Window. initialize and ping are
// exempt by never calling Allow.
type RateLimiter struct {
	clk    clock.Clock
	window time.Duration
	max    int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter builds a RateLimiter with the given window and budget.
// Defaults (window=60s, max=100) match spec.md §4.5/§6.3's RATE_WINDOW_MS
// and RATE_MAX.
func NewRateLimiter(clk clock.Clock, window time.Duration, max int) *RateLimiter {
	if clk == nil {
		clk = clock.System{}
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	if max <= 0 {
		max = 100
	}
	return &RateLimiter{clk: clk, window: window, max: max, buckets: make(map[string]*bucket)}
}

// Allow reports whether sessionID may proceed, and if not, how long (in
// milliseconds) the caller should wait before retrying.
func (r *RateLimiter) Allow(sessionID string) (allowed bool, retryAfterMillis int64) {
	now := r.clk.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[sessionID]
	if !ok || now.Sub(b.windowStart) >= r.window {
		b = &bucket{windowStart: now, count: 0}
		r.buckets[sessionID] = b
	}

	if b.count >= r.max {
		resetAt := b.windowStart.Add(r.window)
		return false, resetAt.Sub(now).Milliseconds()
	}

	b.count++
	return true, 0
}

// Evict drops bucket state for sessionID, called by the session janitor
// when a session is evicted for inactivity (spec.md §3.4).
func (r *RateLimiter) Evict(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, sessionID)
}
