// Package progress tracks global sync-run progress across independently
// executing batch workers. Workers run in separate processes, so the counters
// live in Redis and are only ever mutated through atomic increments; a
// read-modify-write here would silently under-count at scale.
package progress

import (
	"context"
)

// Snapshot is a point-in-time read of a run's progress counters.
type Snapshot struct {
	CompletedBatches int64
	TotalSuccess     int64
	TotalFailed      int64
}

// Tracker is the shared counter store for one sync run, keyed by run date.
//
// All increments are atomic with respect to concurrent callers. The counters
// are transient: they carry a bounded retention and are deleted once the final
// run aggregate has been compiled.
type Tracker interface {
	// IncrementCompletedBatches atomically increments the completed-batch
	// counter for the run and returns the new value. The returned value is
	// what batch workers use to detect run completion.
	IncrementCompletedBatches(ctx context.Context, runDate string) (int64, error)

	// IncrementSuccess atomically adds n to the run's success counter.
	IncrementSuccess(ctx context.Context, runDate string, n int64) error

	// IncrementFailed atomically adds n to the run's failure counter.
	IncrementFailed(ctx context.Context, runDate string, n int64) error

	// Read returns the current counter values for the run. Counters that were
	// never incremented (or already expired) read as zero.
	Read(ctx context.Context, runDate string) (Snapshot, error)

	// Reset deletes the run's counters.
	Reset(ctx context.Context, runDate string) error

	// TryMarkCompiled performs a conditional write claiming the right to
	// compile the run's final aggregate. It returns true for exactly one
	// caller per run; every other caller (a worker racing on the terminal
	// batch count, or a retried duplicate) gets false.
	TryMarkCompiled(ctx context.Context, runDate string) (bool, error)

	// ClearCompileMarker re-arms the compile guard for a date. Called only
	// when a fresh full run is initialized, never by batch workers.
	ClearCompileMarker(ctx context.Context, runDate string) error
}
