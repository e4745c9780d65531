// Package credential defines the per-tenant authentication state persisted
// between connections and the store contract that keeps it.
package credential

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Load when a tenant has no stored credentials.
var ErrNotFound = errors.New("credentials not found")

// State is a tenant's authentication state: named opaque entries produced by
// the connection bridge (session keys, pre-keys, identity). Entry contents
// are never interpreted outside the bridge.
type State map[string]json.RawMessage

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns s with update applied. Entries whose value is JSON null are
// removed. Neither s nor update is modified.
func (s State) Merge(update State) State {
	out := s.Clone()
	if out == nil {
		out = make(State, len(update))
	}
	for k, v := range update {
		if IsNull(v) {
			delete(out, k)
			continue
		}
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// IsNull reports whether v is empty or the JSON literal null.
func IsNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}

// Store persists credentials per tenant.
// This is a port (interface) in the hexagonal architecture.
// Implementations: memory, credfile, sqlite, postgres.
type Store interface {
	// Exists reports whether any credentials are stored for tenant.
	Exists(ctx context.Context, tenant string) (bool, error)
	// Load returns the stored state.
	// Returns ErrNotFound if nothing is stored.
	Load(ctx context.Context, tenant string) (State, error)
	// Save merges an incremental update into the stored state.
	Save(ctx context.Context, tenant string, update State) error
	// Delete removes every entry for tenant. Deleting a tenant with no
	// credentials is not an error.
	Delete(ctx context.Context, tenant string) error
	// List returns the tenants that have stored credentials.
	List(ctx context.Context) ([]string, error)
}
