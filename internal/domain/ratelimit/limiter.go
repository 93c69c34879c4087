package ratelimit

import "context"

// Limiter is the interface for rate limiting checks.
//
// Implementations should use GCRA (Generic Cell Rate Algorithm) for
// smooth rate limiting without burst spikes at window boundaries.
//
// The interface is storage-agnostic, allowing implementations backed
// by in-memory stores or shared backends.
type Limiter interface {
	// Allow checks if a request identified by key is allowed under the
	// given limit and atomically advances the counter.
	//
	// The key should be a structured identifier created by FormatKey.
	// If the request is not allowed, RetryAfter in the result indicates
	// when the next request will be allowed.
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}
