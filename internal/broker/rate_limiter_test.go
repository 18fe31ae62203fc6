package broker

import (
	"testing"
	"time"
)

func TestRateLimiter_ExactLimits(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(100, time.Minute, func() time.Time { return now })

	for i := 0; i < 100; i++ {
		if !limiter.Allow("user1") {
			t.Fatalf("event %d should be allowed within the limit", i+1)
		}
	}
	if limiter.Allow("user1") {
		t.Error("101st event should be denied")
	}
	if !limiter.Allow("user2") {
		t.Error("limits must be per participant")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("user1") {
		t.Error("a new window should restore the budget")
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute, nil)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow("user1") {
			t.Fatal("a zero limit disables limiting")
		}
	}
	if limiter.Len() != 0 {
		t.Error("disabled limiter should not track participants")
	}
}

func TestRateLimiter_CleanupAndForget(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10, time.Minute, func() time.Time { return now })

	limiter.Allow("old")
	now = now.Add(4 * time.Minute)
	limiter.Allow("recent")
	limiter.Allow("gone")
	limiter.Forget("gone")

	now = now.Add(2 * time.Minute)
	if removed := limiter.Cleanup(); removed != 1 {
		t.Errorf("Cleanup removed %d, want 1", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Len = %d, want 1", limiter.Len())
	}
}
