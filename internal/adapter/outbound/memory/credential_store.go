// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

// CredentialStore implements credential.Store with an in-memory map.
// Thread-safe for concurrent access. Stored state is copied on every read
// and write. For development/testing only.
type CredentialStore struct {
	states map[string]credential.State
	mu     sync.RWMutex
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{states: make(map[string]credential.State)}
}

// Exists reports whether tenant has stored credentials.
func (s *CredentialStore) Exists(_ context.Context, tenant string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[tenant]
	return ok, nil
}

// Load returns a copy of tenant's credentials.
func (s *CredentialStore) Load(_ context.Context, tenant string) (credential.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[tenant]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return st.Clone(), nil
}

// Save merges update into tenant's credentials. A save that leaves no
// entries removes the tenant.
func (s *CredentialStore) Save(_ context.Context, tenant string, update credential.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.states[tenant].Merge(update)
	if len(merged) == 0 {
		delete(s.states, tenant)
		return nil
	}
	s.states[tenant] = merged
	return nil
}

// Delete removes tenant's credentials.
func (s *CredentialStore) Delete(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, tenant)
	return nil
}

// List returns the tenants with stored credentials, sorted.
func (s *CredentialStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenants := make([]string, 0, len(s.states))
	for tenant := range s.states {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// Compile-time interface verification.
var _ credential.Store = (*CredentialStore)(nil)
