package memory

import (
	"context"
	"testing"
	"time"

	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewRateLimiter()
	limit := ratelimit.Limit{Rate: 10, Burst: 3, Period: time.Minute}
	key := ratelimit.FormatKey(ratelimit.KeyTypeSubject, "user-alice")

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), key, limit)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}

	result, err := limiter.Allow(context.Background(), key, limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Error("request beyond burst allowed")
	}
	if result.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", result.RetryAfter)
	}
}

func TestRateLimiterRecoversOverTime(t *testing.T) {
	limiter := NewRateLimiter()
	// One request per 10ms, burst 1.
	limit := ratelimit.Limit{Rate: 1, Burst: 1, Period: 10 * time.Millisecond}
	key := ratelimit.FormatKey(ratelimit.KeyTypeAddr, "10.0.0.1")

	first, err := limiter.Allow(context.Background(), key, limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !first.Allowed {
		t.Fatal("first request denied")
	}

	second, err := limiter.Allow(context.Background(), key, limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if second.Allowed {
		t.Fatal("second immediate request allowed")
	}

	time.Sleep(15 * time.Millisecond)
	third, err := limiter.Allow(context.Background(), key, limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !third.Allowed {
		t.Error("request after recovery period denied")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter()
	limit := ratelimit.Limit{Rate: 1, Burst: 1, Period: time.Minute}

	first, err := limiter.Allow(context.Background(), ratelimit.FormatKey(ratelimit.KeyTypeSubject, "user-a"), limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !first.Allowed {
		t.Fatal("first key denied")
	}

	other, err := limiter.Allow(context.Background(), ratelimit.FormatKey(ratelimit.KeyTypeSubject, "user-b"), limit)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !other.Allowed {
		t.Error("independent key denied by another key's usage")
	}
}

func TestRateLimiterCleanupRemovesExpiredKeys(t *testing.T) {
	limiter := NewRateLimiterWithConfig(time.Millisecond, time.Millisecond)
	limit := ratelimit.Limit{Rate: 1, Burst: 1, Period: time.Millisecond}

	if _, err := limiter.Allow(context.Background(), "ratelimit:addr:10.0.0.9", limit); err != nil {
		t.Fatalf("Allow: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	limiter.cleanup()

	limiter.mu.Lock()
	remaining := len(limiter.cells)
	limiter.mu.Unlock()
	if remaining != 0 {
		t.Errorf("cells after cleanup = %d, want 0", remaining)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)
	cancel()
	limiter.Stop()
	limiter.Stop()
}
