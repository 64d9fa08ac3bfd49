// Package tenant provides access to the tenant (business) records that drive
// KPI synchronization. Only tenants with an active sync configuration
// participate in a run.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Tenant is one customer business.
type Tenant struct {
	ID   uuid.UUID
	Name string
}

// Store abstracts tenant lookup for the sync scheduler.
//
// ListActivePage must order tenants by a stable key so that the pages claimed
// by concurrently executing batches never overlap or skip tenants, even when
// the underlying set changes slightly between dispatch and execution.
type Store interface {
	// CountActive returns the number of tenants with an active sync
	// configuration.
	CountActive(ctx context.Context) (int, error)

	// ListActivePage returns the slice [offset, offset+limit) of active
	// tenants in stable ID order. A short or empty page is not an error.
	ListActivePage(ctx context.Context, offset, limit int) ([]Tenant, error)

	// GetTenant returns one tenant by ID regardless of sync configuration,
	// or ErrNotFound.
	GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error)
}
