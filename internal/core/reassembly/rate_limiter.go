package reassembly

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// FragmentRateLimiter tracks per-source fragment counts to keep a single
// sender from flooding the store. Counts are kept per fixed window and the
// window is rotated lazily on the first fragment after it expires.
type FragmentRateLimiter struct {
	mu           sync.Mutex
	current      map[netip.Addr]*atomic.Int64 // source → fragments in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	rejected atomic.Int64
}

// FragmentRateLimiterConfig configures per-source fragment rate limiting.
type FragmentRateLimiterConfig struct {
	MaxFragsPerSource int           // Max fragments per source per window (0 = disabled)
	RateLimitWindow   time.Duration // Window size (default 10s)
}

// NewFragmentRateLimiter creates a rate limiter. Returns nil if disabled
// (MaxFragsPerSource <= 0); a nil limiter allows everything.
func NewFragmentRateLimiter(cfg FragmentRateLimiterConfig) *FragmentRateLimiter {
	if cfg.MaxFragsPerSource <= 0 {
		return nil
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 10 * time.Second
	}
	return &FragmentRateLimiter{
		current:      make(map[netip.Addr]*atomic.Int64),
		windowStart:  time.Now(),
		windowSize:   cfg.RateLimitWindow,
		maxPerWindow: int64(cfg.MaxFragsPerSource),
	}
}

// Allow reports whether a fragment from src may enter the store.
func (l *FragmentRateLimiter) Allow(src netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	if now.Sub(l.windowStart) >= l.windowSize {
		l.current = make(map[netip.Addr]*atomic.Int64)
		l.windowStart = now
	}
	counter, exists := l.current[src]
	if !exists {
		counter = &atomic.Int64{}
		l.current[src] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected fragments.
func (l *FragmentRateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// ActiveSources returns the number of distinct sources in the current window.
func (l *FragmentRateLimiter) ActiveSources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
