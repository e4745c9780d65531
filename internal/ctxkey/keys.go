// Package ctxkey defines context key types shared between the HTTP adapter
// and the services it calls. It must not import other internal packages.
package ctxkey

// LoggerKey is the context key for a request-scoped *slog.Logger carrying
// request_id and the client address.
type LoggerKey struct{}

// APIKeyNameKey is the context key for the name of the API key that
// authenticated the request.
type APIKeyNameKey struct{}
