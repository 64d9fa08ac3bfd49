package tenant

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a Store over a fixed tenant set, primarily for tests and
// local development. It mirrors the database ordering contract: active
// tenants are paged in stable ID order.
type InMemoryStore struct {
	mu      sync.RWMutex
	tenants []Tenant
	active  map[uuid.UUID]bool
}

// NewInMemoryStore creates a store holding the given tenants, all of them
// with an active sync configuration.
func NewInMemoryStore(tenants ...Tenant) *InMemoryStore {
	s := &InMemoryStore{
		active: make(map[uuid.UUID]bool, len(tenants)),
	}
	for _, t := range tenants {
		s.tenants = append(s.tenants, t)
		s.active[t.ID] = true
	}
	s.sortTenants()
	return s
}

// SetActive toggles a tenant's sync configuration.
func (s *InMemoryStore) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = active
}

func (s *InMemoryStore) sortTenants() {
	sort.Slice(s.tenants, func(i, j int) bool {
		return bytes.Compare(s.tenants[i].ID[:], s.tenants[j].ID[:]) < 0
	})
}

func (s *InMemoryStore) activeTenants() []Tenant {
	var out []Tenant
	for _, t := range s.tenants {
		if s.active[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// CountActive implements Store.
func (s *InMemoryStore) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activeTenants()), nil
}

// ListActivePage implements Store.
func (s *InMemoryStore) ListActivePage(_ context.Context, offset, limit int) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := s.activeTenants()
	if offset >= len(active) {
		return nil, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	page := make([]Tenant, end-offset)
	copy(page, active[offset:end])
	return page, nil
}

// GetTenant implements Store.
func (s *InMemoryStore) GetTenant(_ context.Context, id uuid.UUID) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}
