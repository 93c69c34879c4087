// Package http provides the HTTP transport adapter for the records assistant.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chalkline-ai/chalkline/internal/ctxkey"
	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

// claimsContextKey is the type for the request claims context key.
type claimsContextKey struct{}

// ClaimsKey is the context key for the authenticated caller's claims.
var ClaimsKey = claimsContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = ctxkey.RequestIDKey{}

// claimsTTL bounds how long minted claims stay valid. Requests are
// short-lived; the TTL only matters if a claims value escapes the
// request scope.
const claimsTTL = time.Hour

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ClaimsFromContext retrieves the authenticated claims from context.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(auth.Claims)
	return claims, ok
}

// APIKeyAuth validates the Bearer token against the identity directory
// and stores the minted claims in the request context. Requests without
// a valid key are rejected before reaching any handler.
func APIKeyAuth(keys *auth.KeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			rawKey := strings.TrimPrefix(header, "Bearer ")

			identity, err := keys.Validate(r.Context(), rawKey)
			if err != nil {
				LoggerFromContext(r.Context()).Info("api key rejected")
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			claims := identity.Claims(time.Now().UTC().Add(claimsTTL))
			if err := claims.Validate(); err != nil {
				LoggerFromContext(r.Context()).Error("directory produced invalid claims",
					"subject", identity.SubjectID,
					"error", err,
				)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OriginProtection validates the Origin header against an allowlist.
// If allowedOrigins is empty, all requests with an Origin header are
// blocked (local-only mode). Requests without an Origin header are
// allowed (same-origin or non-browser).
func OriginProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
