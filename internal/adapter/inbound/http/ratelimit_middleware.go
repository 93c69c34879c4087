package http

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/chalkline-ai/chalkline/internal/domain/ratelimit"
)

// RateLimitByAddr limits requests per client address. It runs before
// authentication to slow down API key guessing.
func RateLimitByAddr(limiter ratelimit.Limiter, limit ratelimit.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key := ratelimit.FormatKey(ratelimit.KeyTypeAddr, host)
			enforceLimit(w, r, next, limiter, key, limit)
		})
	}
}

// RateLimitBySubject limits requests per authenticated caller. It runs
// after authentication so one caller cannot starve the model budget for
// everyone behind the same address.
func RateLimitBySubject(limiter ratelimit.Limiter, limit ratelimit.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				// No claims means auth already failed; let the handler
				// produce the 401.
				next.ServeHTTP(w, r)
				return
			}
			key := ratelimit.FormatKey(ratelimit.KeyTypeSubject, claims.SubjectID)
			enforceLimit(w, r, next, limiter, key, limit)
		})
	}
}

// enforceLimit applies one rate limit check. Limiter errors fail open:
// a broken limiter must not take the API down.
func enforceLimit(w http.ResponseWriter, r *http.Request, next http.Handler, limiter ratelimit.Limiter, key string, limit ratelimit.Limit) {
	result, err := limiter.Allow(r.Context(), key, limit)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("rate limit check failed", "key", key, "error", err)
		next.ServeHTTP(w, r)
		return
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.Allowed {
		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	next.ServeHTTP(w, r)
}
