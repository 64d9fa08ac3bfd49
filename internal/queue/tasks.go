// Package queue carries batch sync tasks between the coordinator and the
// worker pool over a Redis-backed task queue (asynq).
//
// Each batch task is deduplicated on (batch number, run date): while a task
// with that identity is pending or in flight, a second enqueue is rejected.
// The dedup lock is held at least as long as the task's execution timeout, so
// a retry triggered while the original attempt is still legitimately running
// cannot cause duplicate processing.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TypeSyncBatch is the task type for one batch of tenants in a sync run
	TypeSyncBatch = "kpi:sync_batch"

	// DefaultQueue is the dedicated queue for batch processing
	DefaultQueue = "kpi-batch"
)

// SyncBatchPayload identifies one batch of a sync run. It is immutable after
// dispatch; the slice it maps to is derived from these fields alone.
type SyncBatchPayload struct {
	// BatchNumber is the zero-based batch index within the run
	BatchNumber int `json:"batch_number"`

	// RunDate is the calendar date being synced (YYYY-MM-DD)
	RunDate string `json:"run_date"`

	// BatchSize is the run's batch size; the batch covers tenants
	// [BatchNumber*BatchSize, BatchNumber*BatchSize+BatchSize)
	BatchSize int `json:"batch_size"`

	// TotalTenants is the run's tenant count at dispatch time, used by
	// workers to recompute the total batch count
	TotalTenants int `json:"total_tenants"`
}

// Validate checks payload fields before dispatch or processing.
func (p SyncBatchPayload) Validate() error {
	if p.BatchNumber < 0 {
		return fmt.Errorf("batch_number must be non-negative, got %d", p.BatchNumber)
	}
	if p.RunDate == "" {
		return fmt.Errorf("run_date is required")
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	}
	if p.TotalTenants < 0 {
		return fmt.Errorf("total_tenants must be non-negative, got %d", p.TotalTenants)
	}
	return nil
}

// NewSyncBatchTask builds the queue task for a batch.
func NewSyncBatchTask(p SyncBatchPayload) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync batch payload: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync batch payload: %w", err)
	}
	return asynq.NewTask(TypeSyncBatch, data), nil
}

// ParseSyncBatchPayload decodes and validates a batch task payload.
func ParseSyncBatchPayload(t *asynq.Task) (SyncBatchPayload, error) {
	var p SyncBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return SyncBatchPayload{}, fmt.Errorf("failed to decode sync batch payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return SyncBatchPayload{}, fmt.Errorf("invalid sync batch payload: %w", err)
	}
	return p, nil
}

// BatchTaskID derives the deduplication identity of a batch task.
func BatchTaskID(runDate string, batchNumber int) string {
	return fmt.Sprintf("sync-batch:%s:%d", runDate, batchNumber)
}
