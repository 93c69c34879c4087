package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter using GCRA in memory.
// Thread-safe for concurrent access. Includes background cleanup to
// prevent unbounded growth of the key set.
type RateLimiter struct {
	cells           map[string]time.Time // Theoretical Arrival Time per key
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates an in-memory rate limiter with default cleanup
// settings: cleanup every 5 minutes, keys expire after 1 hour.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 1*time.Hour)
}

// NewRateLimiterWithConfig creates an in-memory rate limiter with
// custom cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		cells:           make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
	}
}

// Allow checks if a request is allowed under the given limit.
// Uses GCRA so requests are spread evenly over the period instead of
// resetting at window boundaries.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit ratelimit.Limit) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if limit.Rate <= 0 {
		limit.Rate = 1
	}
	// Emission interval: time between allowed requests.
	emission := limit.Period / time.Duration(limit.Rate)

	if limit.Burst <= 0 {
		limit.Burst = limit.Rate
	}
	burstOffset := time.Duration(limit.Burst) * emission

	// Get or initialize TAT (Theoretical Arrival Time).
	tat, exists := r.cells[key]
	if !exists || tat.Before(now) {
		tat = now
	}

	// The request lands at tat+emission. If that would put the TAT more
	// than one burst window ahead of now, the budget is spent.
	newTAT := tat.Add(emission)
	if over := newTAT.Sub(now) - burstOffset; over > 0 {
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: over,
			ResetAfter: tat.Sub(now),
		}, nil
	}
	r.cells[key] = newTAT

	remaining := int((burstOffset - newTAT.Sub(now)) / emission)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > limit.Burst {
		remaining = limit.Burst
	}

	return ratelimit.Result{
		Allowed:    true,
		Remaining:  remaining,
		ResetAfter: newTAT.Sub(now),
	}, nil
}

// StartCleanup starts the background cleanup goroutine. It periodically
// removes keys whose TAT is older than maxTTL and stops when ctx is
// cancelled or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// Stop terminates the cleanup goroutine and waits for it to finish.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// cleanup removes entries whose TAT passed more than maxTTL ago. Such
// keys have fully recovered their budget, so dropping them does not
// change any future decision.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.maxTTL)
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
		}
	}
}
