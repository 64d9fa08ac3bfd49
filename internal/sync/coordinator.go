package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/growthbeam/kpi-sync-server/internal/progress"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
	"github.com/growthbeam/kpi-sync-server/internal/tenant"
)

// DefaultBatchSize is the number of tenants per batch task unless a run
// requests otherwise.
const DefaultBatchSize = 20

// RunRequest selects one of the coordinator's three mutually exclusive modes:
// single-tenant (TenantID set), single-batch (BatchNumber set), or full
// fan-out (neither set).
type RunRequest struct {
	// TenantID targets one tenant for a synchronous manual rerun
	TenantID *uuid.UUID

	// RunDate is the calendar date to sync; defaults to yesterday (UTC)
	RunDate string

	// BatchSize is the tenants-per-batch partition size; defaults to the
	// coordinator's configured size
	BatchSize int

	// BatchNumber targets one batch for a synchronous manual replay
	BatchNumber *int
}

// Coordinator is the entry point of the KPI sync scheduler. It computes the
// tenant set and batch plan for a run date and either processes a targeted
// tenant or batch directly, or fans the full set out to the task queue.
type Coordinator struct {
	tenants   tenant.Store
	enqueuer  queue.Enqueuer
	progress  progress.Tracker
	results   results.Store
	worker    *Worker
	batchSize int
	log       *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDefaultBatchSize overrides the batch size used when a run request does
// not carry one.
func WithDefaultBatchSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// NewCoordinator creates a coordinator with injected dependencies. The worker
// is used for the synchronous targeted modes; full runs only touch the queue.
func NewCoordinator(
	tenants tenant.Store,
	enqueuer queue.Enqueuer,
	tracker progress.Tracker,
	store results.Store,
	worker *Worker,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		tenants:   tenants,
		enqueuer:  enqueuer,
		progress:  tracker,
		results:   store,
		worker:    worker,
		batchSize: DefaultBatchSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes a sync run request.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) error {
	if req.TenantID != nil && req.BatchNumber != nil {
		return fmt.Errorf("tenant and batch number cannot both be targeted")
	}
	if req.RunDate == "" {
		req.RunDate = DefaultRunDate()
	} else if err := ValidateRunDate(req.RunDate); err != nil {
		return err
	}
	if req.BatchSize <= 0 {
		req.BatchSize = c.batchSize
	}

	switch {
	case req.TenantID != nil:
		return c.runSingleTenant(ctx, *req.TenantID, req.RunDate)
	case req.BatchNumber != nil:
		return c.runSingleBatch(ctx, *req.BatchNumber, req.RunDate, req.BatchSize)
	default:
		return c.runFull(ctx, req.RunDate, req.BatchSize)
	}
}

// runSingleTenant synchronizes one tenant synchronously, bypassing batch
// planning entirely: no batch tasks and no progress counters are created.
func (c *Coordinator) runSingleTenant(ctx context.Context, tenantID uuid.UUID, runDate string) error {
	tn, err := c.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}

	c.log.Info("Starting targeted tenant sync",
		"tenant_id", tn.ID,
		"tenant_name", tn.Name,
		"run_date", runDate)
	return c.worker.SyncTenant(ctx, tn, runDate)
}

// runSingleBatch replays one batch synchronously, recomputing the plan from
// the current tenant count the same way a queued worker would.
func (c *Coordinator) runSingleBatch(ctx context.Context, batchNumber int, runDate string, batchSize int) error {
	if batchNumber < 0 {
		return fmt.Errorf("batch number must be non-negative, got %d", batchNumber)
	}

	total, err := c.tenants.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to count active tenants: %w", err)
	}

	c.log.Info("Replaying single batch",
		"run_date", runDate,
		"batch_number", batchNumber,
		"total_tenants", total)
	return c.worker.ProcessBatch(ctx, queue.SyncBatchPayload{
		BatchNumber:  batchNumber,
		RunDate:      runDate,
		BatchSize:    batchSize,
		TotalTenants: total,
	})
}

// runFull partitions the active tenant set and dispatches one batch task per
// batch to the queue, fire-and-forget. It does not block on completion; the
// worker that observes the terminal batch count compiles the aggregate.
func (c *Coordinator) runFull(ctx context.Context, runDate string, batchSize int) error {
	total, err := c.tenants.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to count active tenants: %w", err)
	}

	plan := NewPlan(runDate, total, batchSize)

	if total == 0 {
		// Nothing to sync is a completed run, not an error.
		c.log.Info("No active tenants, run completes empty", "run_date", runDate)
		return c.completeEmptyRun(ctx, plan)
	}

	// A fresh run resets the transient counters and re-arms the compile
	// guard so a re-triggered date can compile again.
	if err := c.progress.Reset(ctx, runDate); err != nil {
		return err
	}
	if err := c.progress.ClearCompileMarker(ctx, runDate); err != nil {
		return err
	}

	now := time.Now().UTC()
	status := &results.RunStatus{
		RunDate:      runDate,
		Phase:        results.RunPhaseRunning,
		TotalTenants: total,
		TotalBatches: plan.TotalBatches,
		BatchSize:    batchSize,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.results.PutRunStatus(ctx, status); err != nil {
		c.log.Warn("Failed to store run status", "run_date", runDate, "error", err)
	}

	c.log.Info("Dispatching batch tasks",
		"run_date", runDate,
		"total_tenants", total,
		"batch_size", batchSize,
		"total_batches", plan.TotalBatches)

	var dispatchErrs []error
	for n := 0; n < plan.TotalBatches; n++ {
		err := c.enqueuer.EnqueueSyncBatch(ctx, queue.SyncBatchPayload{
			BatchNumber:  n,
			RunDate:      runDate,
			BatchSize:    batchSize,
			TotalTenants: total,
		})
		if err != nil {
			c.log.Error("Failed to enqueue batch",
				"run_date", runDate,
				"batch_number", n,
				"error", err)
			dispatchErrs = append(dispatchErrs, err)
		}
	}
	if len(dispatchErrs) > 0 {
		return fmt.Errorf("dispatched %d of %d batches: %w",
			plan.TotalBatches-len(dispatchErrs), plan.TotalBatches, errors.Join(dispatchErrs...))
	}

	c.log.Info("All batch tasks dispatched", "run_date", runDate, "total_batches", plan.TotalBatches)
	return nil
}

// completeEmptyRun records an empty aggregate and a completed status for a
// date with no active tenants.
func (c *Coordinator) completeEmptyRun(ctx context.Context, plan Plan) error {
	now := time.Now().UTC()
	aggregate := &results.RunAggregate{
		RunDate:     plan.RunDate,
		CompletedAt: now,
	}
	if err := c.results.PutRunAggregate(ctx, aggregate); err != nil {
		return fmt.Errorf("failed to store empty run aggregate for %s: %w", plan.RunDate, err)
	}
	status := &results.RunStatus{
		RunDate:   plan.RunDate,
		Phase:     results.RunPhaseCompleted,
		BatchSize: plan.BatchSize,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := c.results.PutRunStatus(ctx, status); err != nil {
		c.log.Warn("Failed to store run status", "run_date", plan.RunDate, "error", err)
	}
	return nil
}
