package session

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by NewRegistry.
const DefaultShards = 32

// Registry maps tenant identifiers to values. It is safe for concurrent use;
// tenants are spread across independently locked shards so lookups for
// different tenants rarely contend.
type Registry[V comparable] struct {
	shards []*registryShard[V]
}

type registryShard[V comparable] struct {
	mu      sync.RWMutex
	entries map[string]V
}

// NewRegistry creates a registry with DefaultShards shards.
func NewRegistry[V comparable]() *Registry[V] {
	return NewRegistryWithShards[V](DefaultShards)
}

// NewRegistryWithShards creates a registry with n shards (minimum 1).
func NewRegistryWithShards[V comparable](n int) *Registry[V] {
	if n < 1 {
		n = 1
	}
	r := &Registry[V]{shards: make([]*registryShard[V], n)}
	for i := range r.shards {
		r.shards[i] = &registryShard[V]{entries: make(map[string]V)}
	}
	return r
}

func (r *Registry[V]) shard(tenant string) *registryShard[V] {
	return r.shards[xxhash.Sum64String(tenant)%uint64(len(r.shards))]
}

// Get returns the value for tenant.
func (r *Registry[V]) Get(tenant string) (V, bool) {
	s := r.shard(tenant)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[tenant]
	return v, ok
}

// GetOrCreate returns the existing value for tenant, or stores and returns
// the result of create. created reports whether create was called. create
// runs under the shard lock and must not touch the registry.
func (r *Registry[V]) GetOrCreate(tenant string, create func() V) (v V, created bool) {
	s := r.shard(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[tenant]; ok {
		return existing, false
	}
	v = create()
	s.entries[tenant] = v
	return v, true
}

// CompareAndDelete removes tenant only if it still maps to v. It reports
// whether the entry was removed.
func (r *Registry[V]) CompareAndDelete(tenant string, v V) bool {
	s := r.shard(tenant)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[tenant]; ok && existing == v {
		delete(s.entries, tenant)
		return true
	}
	return false
}

// Len returns the number of entries.
func (r *Registry[V]) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Range calls fn for each entry until fn returns false. Each shard is
// copied before iteration so fn may call back into the registry.
func (r *Registry[V]) Range(fn func(tenant string, v V) bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		batch := make(map[string]V, len(s.entries))
		for k, v := range s.entries {
			batch[k] = v
		}
		s.mu.RUnlock()
		for k, v := range batch {
			if !fn(k, v) {
				return
			}
		}
	}
}

// Drain removes and returns every entry.
func (r *Registry[V]) Drain() map[string]V {
	out := make(map[string]V)
	for _, s := range r.shards {
		s.mu.Lock()
		for k, v := range s.entries {
			out[k] = v
		}
		s.entries = make(map[string]V)
		s.mu.Unlock()
	}
	return out
}
