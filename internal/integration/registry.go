package integration

import (
	"fmt"
	"sync"
)

// Registry holds the set of registered sync adapters. Adapters register once
// at startup; iteration order is registration order so that per-tenant sync
// output is stable across runs.
type Registry struct {
	mu       sync.RWMutex
	adapters []SyncAdapter
	byName   map[string]SyncAdapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]SyncAdapter),
	}
}

// Register adds an adapter to the registry. Registering two adapters with the
// same name is a configuration error.
func (r *Registry) Register(adapter SyncAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("adapter name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("adapter %q is already registered", name)
	}
	r.byName[name] = adapter
	r.adapters = append(r.adapters, adapter)
	return nil
}

// Adapters returns the registered adapters in registration order.
func (r *Registry) Adapters() []SyncAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SyncAdapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Get returns the adapter registered under name, or nil if none is.
func (r *Registry) Get(name string) SyncAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
