// Package inbound defines the interfaces inbound adapters implement.
package inbound

import "context"

// Transport exposes the session manager to clients.
type Transport interface {
	// Start serves until ctx is cancelled or the transport fails. Returns
	// nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close stops serving and releases resources.
	Close() error
}
