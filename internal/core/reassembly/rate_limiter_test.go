package reassembly

import (
	"net/netip"
	"testing"
	"time"
)

func TestFragmentRateLimiter_NilWhenDisabled(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{MaxFragsPerSource: 0})
	if l != nil {
		t.Fatal("expected nil limiter when MaxFragsPerSource=0")
	}
	// nil limiter should always allow
	if !l.Allow(netip.MustParseAddr("2001:db8::1"), time.Now()) {
		t.Error("nil limiter should allow all")
	}
	if l.Rejected() != 0 {
		t.Error("nil limiter should report zero rejections")
	}
}

func TestFragmentRateLimiter_AllowsWithinLimit(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{
		MaxFragsPerSource: 5,
		RateLimitWindow:   10 * time.Second,
	})
	src := netip.MustParseAddr("2001:db8::1")
	now := time.Now()
	for i := 0; i < 5; i++ {
		if !l.Allow(src, now) {
			t.Errorf("fragment %d should be allowed", i)
		}
	}
}

func TestFragmentRateLimiter_RejectsOverLimit(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{
		MaxFragsPerSource: 3,
		RateLimitWindow:   10 * time.Second,
	})
	src := netip.MustParseAddr("2001:db8::1")
	now := time.Now()
	for i := 0; i < 3; i++ {
		l.Allow(src, now)
	}
	if l.Allow(src, now) {
		t.Error("4th fragment should be rejected")
	}
	if got := l.Rejected(); got != 1 {
		t.Errorf("expected 1 rejection, got %d", got)
	}
}

func TestFragmentRateLimiter_DifferentSourcesIndependent(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{
		MaxFragsPerSource: 2,
		RateLimitWindow:   10 * time.Second,
	})
	a := netip.MustParseAddr("2001:db8::1")
	b := netip.MustParseAddr("2001:db8::2")
	now := time.Now()

	l.Allow(a, now)
	l.Allow(a, now)
	if l.Allow(a, now) {
		t.Error("source a should be rate limited")
	}
	if !l.Allow(b, now) {
		t.Error("source b should not be affected by a's limit")
	}
	if got := l.ActiveSources(); got != 2 {
		t.Errorf("expected 2 active sources, got %d", got)
	}
}

func TestFragmentRateLimiter_WindowRotation(t *testing.T) {
	l := NewFragmentRateLimiter(FragmentRateLimiterConfig{
		MaxFragsPerSource: 2,
		RateLimitWindow:   1 * time.Second,
	})
	src := netip.MustParseAddr("2001:db8::1")
	now := time.Now()

	l.Allow(src, now)
	l.Allow(src, now)
	if l.Allow(src, now) {
		t.Error("should be rejected before window rotation")
	}

	later := now.Add(2 * time.Second)
	if !l.Allow(src, later) {
		t.Error("should be allowed after window rotation")
	}
}
