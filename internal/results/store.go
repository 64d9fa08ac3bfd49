package results

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for the requested key,
// either because it was never written or because its TTL expired.
var ErrNotFound = errors.New("result not found")

// TTLs control how long each snapshot kind is retained.
type TTLs struct {
	// Result bounds per-tenant and per-batch snapshots
	Result time.Duration

	// Aggregate bounds run aggregates and run statuses, which feed
	// historical reporting
	Aggregate time.Duration
}

// DefaultTTLs returns the standard retention windows: a week for per-tenant
// and per-batch detail, thirty days for run-level summaries.
func DefaultTTLs() TTLs {
	return TTLs{
		Result:    7 * 24 * time.Hour,
		Aggregate: 30 * 24 * time.Hour,
	}
}

// Store holds keyed result snapshots with automatic expiry.
type Store interface {
	// PutBusinessResult stores the combined per-source result for one tenant
	// and run date, overwriting any previous snapshot.
	PutBusinessResult(ctx context.Context, result *BusinessSyncResult) error

	// GetBusinessResult returns the snapshot for a tenant and run date, or
	// ErrNotFound.
	GetBusinessResult(ctx context.Context, tenantID string, runDate string) (*BusinessSyncResult, error)

	// PutBatchResult stores one batch's execution summary.
	PutBatchResult(ctx context.Context, result *BatchResult) error

	// GetBatchResult returns the summary for a batch and run date, or
	// ErrNotFound.
	GetBatchResult(ctx context.Context, runDate string, batchNumber int) (*BatchResult, error)

	// PutRunAggregate stores the final compiled summary of a run.
	PutRunAggregate(ctx context.Context, agg *RunAggregate) error

	// GetRunAggregate returns a run's final summary, or ErrNotFound.
	GetRunAggregate(ctx context.Context, runDate string) (*RunAggregate, error)

	// PutRunStatus stores the current lifecycle state of a run.
	PutRunStatus(ctx context.Context, status *RunStatus) error

	// GetRunStatus returns a run's lifecycle state, or ErrNotFound.
	GetRunStatus(ctx context.Context, runDate string) (*RunStatus, error)
}
