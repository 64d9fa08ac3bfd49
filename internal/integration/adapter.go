// Package integration defines the contract between the KPI sync scheduler and
// the per-source integration adapters (social analytics, ads platforms, POS
// systems). The scheduler never branches on a concrete source; it iterates the
// registered adapters uniformly, so adding a source is a registration, not a
// code change in the sync path.
package integration

import (
	"context"

	"github.com/google/uuid"
)

// Result is the outcome of one adapter's daily sync for one tenant.
// It is immutable once returned by the adapter.
type Result struct {
	// Success indicates whether the sync completed without source-level errors
	Success bool `json:"success"`

	// SyncedCount is the number of KPI records upserted by the adapter
	SyncedCount int `json:"synced_count"`

	// FailedCount is the number of records the adapter could not sync
	FailedCount int `json:"failed_count"`

	// Message carries informational detail, e.g. why a source was skipped
	Message string `json:"message,omitempty"`

	// Errors holds per-record or transport error descriptions
	Errors []string `json:"errors,omitempty"`
}

// SyncAdapter is implemented by each external data source integration.
//
// Implementations own their credentials, transport, rate limiting and the
// idempotent upsert of KPI records. SyncDaily must not return an error for
// ordinary "nothing to sync" conditions; an error means a transport or auth
// failure that the caller should count as a failed source.
type SyncAdapter interface {
	// Name returns the stable source identifier (e.g. "instagram", "pos").
	// It is used as the key in persisted per-tenant results.
	Name() string

	// IsAvailable reports whether the tenant has a usable configuration for
	// this source. It must be cheap; no outbound calls.
	IsAvailable(ctx context.Context, tenantID uuid.UUID) bool

	// SyncDaily pulls the source's metrics for the given tenant and calendar
	// date (YYYY-MM-DD) and upserts them idempotently.
	SyncDaily(ctx context.Context, tenantID uuid.UUID, date string) (Result, error)
}

// UnavailableResult is the placeholder recorded when a tenant has no usable
// configuration for a source. Informational, not an error.
func UnavailableResult() Result {
	return Result{
		Success: false,
		Message: "integration not available",
	}
}
