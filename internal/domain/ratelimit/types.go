// Package ratelimit provides rate limiting domain types for the chat API.
package ratelimit

import (
	"fmt"
	"time"
)

// Limit defines the rate limiting parameters for one key class.
type Limit struct {
	// Rate is the number of allowed requests in the period.
	Rate int

	// Burst is the maximum number of requests that can occur at once.
	// Burst should be >= Rate for meaningful operation.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration
}

// KeyType identifies the class of rate limit key.
type KeyType string

const (
	// KeyTypeAddr is for client address based rate limiting, applied
	// before authentication to slow down key guessing.
	KeyTypeAddr KeyType = "addr"

	// KeyTypeSubject is for per-caller rate limiting, applied after
	// authentication so one caller cannot starve the model budget.
	KeyTypeSubject KeyType = "subject"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeAddr, "192.168.1.1") -> "ratelimit:addr:192.168.1.1"
//   - FormatKey(KeyTypeSubject, "user-alice") -> "ratelimit:subject:user-alice"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
