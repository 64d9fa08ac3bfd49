// Package results persists structured sync-result snapshots for dashboards
// and support debugging. The store is observability-only: batch completion is
// decided by the progress counters, never by scanning stored results, and a
// missing entry is not an error for any other component.
package results

import (
	"time"

	"github.com/google/uuid"

	"github.com/growthbeam/kpi-sync-server/internal/integration"
)

// RunPhase represents the lifecycle phase of a full sync run.
type RunPhase string

const (
	// RunPhasePending means the run has been created but no batch finished yet
	RunPhasePending RunPhase = "pending"

	// RunPhaseRunning means batch workers are processing the run
	RunPhaseRunning RunPhase = "running"

	// RunPhaseCompleted means the final aggregate has been compiled
	RunPhaseCompleted RunPhase = "completed"

	// RunPhaseStalled means the run exceeded its deadline without completing
	RunPhaseStalled RunPhase = "stalled"
)

// BusinessSyncResult is the combined per-source outcome of syncing one tenant
// for one run date. Written once per tenant per date; reruns overwrite.
type BusinessSyncResult struct {
	TenantID     uuid.UUID                     `json:"tenant_id"`
	TenantName   string                        `json:"tenant_name,omitempty"`
	RunDate      string                        `json:"run_date"`
	Integrations map[string]integration.Result `json:"integrations"`
}

// BatchResult summarizes one batch's execution, written by the owning worker
// on completion and read-only afterward.
type BatchResult struct {
	BatchNumber  int       `json:"batch_number"`
	RunDate      string    `json:"run_date"`
	TenantCount  int       `json:"tenant_count"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Duration returns the batch's wall-clock execution time.
func (b *BatchResult) Duration() time.Duration {
	return b.CompletedAt.Sub(b.StartedAt)
}

// RunAggregate is the final compiled summary of a run, compiled exactly once
// and retained for historical reporting.
type RunAggregate struct {
	RunDate      string    `json:"run_date"`
	TotalTenants int       `json:"total_tenants"`
	TotalBatches int       `json:"total_batches"`
	TotalSuccess int64     `json:"total_success"`
	TotalFailed  int64     `json:"total_failed"`
	CompletedAt  time.Time `json:"completed_at"`
}

// RunStatus records the current state of a run for monitoring. The watchdog
// flips running runs to stalled when they exceed their deadline.
type RunStatus struct {
	RunDate      string    `json:"run_date"`
	Phase        RunPhase  `json:"phase"`
	TotalTenants int       `json:"total_tenants"`
	TotalBatches int       `json:"total_batches"`
	BatchSize    int       `json:"batch_size"`
	Message      string    `json:"message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
