package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Sayan19951995/metricon-sub002/internal/ctxkey"
	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
)

type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// RequestIDMiddleware extracts or generates a request ID and stores a
// logger enriched with it and the client address in the request context.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID, "remote", extractRealIP(r))
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// APIKeyNameFromContext returns the name of the key that authenticated the
// request, if any.
func APIKeyNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(ctxkey.APIKeyNameKey{}).(string)
	return name, ok
}

// DNSRebindingProtection validates the Origin header against an allowlist.
// Requests without an Origin header are allowed (same-origin or non-browser).
// With an empty allowlist every request carrying an Origin is rejected.
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
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
				respondError(w, r, http.StatusForbidden, "origin not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyMiddleware requires a Bearer key accepted by keys. When keys is nil
// or empty, requests pass through unauthenticated.
func APIKeyMiddleware(keys *auth.Keyring) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !keys.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			rawKey, found := strings.CutPrefix(header, "Bearer ")
			if !found || rawKey == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="metricon"`)
				respondError(w, r, http.StatusUnauthorized, "missing bearer token")
				return
			}

			name, err := keys.Verify(rawKey)
			if err != nil {
				if !errors.Is(err, auth.ErrInvalidKey) {
					LoggerFromContext(r.Context()).Error("api key verification failed", "error", err)
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="metricon", error="invalid_token"`)
				respondError(w, r, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), ctxkey.APIKeyNameKey{}, name)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, LoggerFromContext(ctx).With("api_key", name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractRealIP returns the client address, preferring the first entry of
// X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
