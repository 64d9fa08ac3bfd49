package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/growthbeam/kpi-sync-server/internal/integration"
	"github.com/growthbeam/kpi-sync-server/internal/progress"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
	"github.com/growthbeam/kpi-sync-server/internal/telemetry"
	"github.com/growthbeam/kpi-sync-server/internal/tenant"
)

// Worker processes one batch of tenants per task. Workers run concurrently
// across processes with no shared memory; all coordination goes through the
// progress tracker and the result store.
type Worker struct {
	tenants  tenant.Store
	adapters *integration.Registry
	progress progress.Tracker
	results  results.Store
	metrics  *telemetry.SyncMetrics
	log      *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerMetrics sets the sync metrics for the worker.
func WithWorkerMetrics(metrics *telemetry.SyncMetrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = metrics
	}
}

// NewWorker creates a batch worker with injected dependencies.
func NewWorker(
	tenants tenant.Store,
	adapters *integration.Registry,
	tracker progress.Tracker,
	store results.Store,
	opts ...WorkerOption,
) *Worker {
	w := &Worker{
		tenants:  tenants,
		adapters: adapters,
		progress: tracker,
		results:  store,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessBatch executes one batch of a sync run.
//
// Tenants in the slice are processed sequentially to bound concurrent
// outbound calls against the external sources; a failure while handling one
// tenant is recorded and the remaining tenants are still attempted. An error
// is returned only for infrastructure-level failures (the queue retries
// those); ordinary per-tenant failures are reflected in the counters.
func (w *Worker) ProcessBatch(ctx context.Context, p queue.SyncBatchPayload) error {
	plan := NewPlan(p.RunDate, p.TotalTenants, p.BatchSize)
	slice := plan.Slice(p.BatchNumber)
	startedAt := time.Now().UTC()

	w.log.Info("Processing batch",
		"run_date", p.RunDate,
		"batch_number", p.BatchNumber,
		"offset", slice.Offset,
		"length", slice.Length)

	tenants, err := w.tenants.ListActivePage(ctx, slice.Offset, slice.Length)
	if err != nil {
		return fmt.Errorf("failed to load tenant slice for batch %d of run %s: %w",
			p.BatchNumber, p.RunDate, err)
	}

	successCount := 0
	errorCount := 0
	for _, tn := range tenants {
		if err := w.syncTenantIsolated(ctx, tn, p.RunDate); err != nil {
			w.log.Error("Failed to sync tenant",
				"run_date", p.RunDate,
				"batch_number", p.BatchNumber,
				"tenant_id", tn.ID,
				"tenant_name", tn.Name,
				"error", err)
			errorCount++
			continue
		}
		successCount++
	}

	completedAt := time.Now().UTC()
	batchResult := &results.BatchResult{
		BatchNumber:  p.BatchNumber,
		RunDate:      p.RunDate,
		TenantCount:  len(tenants),
		SuccessCount: successCount,
		ErrorCount:   errorCount,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
	}
	// Observability only; a failed write must not fail the batch.
	if err := w.results.PutBatchResult(ctx, batchResult); err != nil {
		w.log.Warn("Failed to store batch result",
			"run_date", p.RunDate,
			"batch_number", p.BatchNumber,
			"error", err)
	}

	w.metrics.RecordBatchDuration(ctx, completedAt.Sub(startedAt), errorCount == 0)
	w.metrics.RecordTenantSyncs(ctx, int64(successCount), int64(errorCount))

	// Totals go in before the completed-batch counter so that whichever
	// worker observes the terminal count reads fully accumulated totals.
	if err := w.progress.IncrementSuccess(ctx, p.RunDate, int64(successCount)); err != nil {
		return err
	}
	if err := w.progress.IncrementFailed(ctx, p.RunDate, int64(errorCount)); err != nil {
		return err
	}
	completedBatches, err := w.progress.IncrementCompletedBatches(ctx, p.RunDate)
	if err != nil {
		return err
	}

	w.log.Info("Batch completed",
		"run_date", p.RunDate,
		"batch_number", p.BatchNumber,
		"tenant_count", len(tenants),
		"success_count", successCount,
		"error_count", errorCount,
		"duration", completedAt.Sub(startedAt),
		"completed_batches", completedBatches,
		"total_batches", plan.TotalBatches)

	if completedBatches >= int64(plan.TotalBatches) {
		return w.finalizeRun(ctx, plan)
	}
	return nil
}

// syncTenantIsolated confines any failure, including a panic escaping an
// adapter, to the one tenant being handled.
func (w *Worker) syncTenantIsolated(ctx context.Context, tn tenant.Tenant, runDate string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while syncing tenant %s: %v", tn.ID, r)
		}
	}()
	return w.SyncTenant(ctx, tn, runDate)
}

// SyncTenant runs every registered adapter for one tenant and date and
// persists the combined result. Available sources are invoked concurrently;
// they are independent and do not share rate-limit budgets. A failure in one
// source never prevents the others from being attempted.
//
// The returned error reports source call failures after all sources were
// attempted and the combined result was persisted; an unavailable source is
// informational and never an error.
func (w *Worker) SyncTenant(ctx context.Context, tn tenant.Tenant, runDate string) error {
	adapters := w.adapters.Adapters()

	type outcome struct {
		name   string
		result integration.Result
		err    error
	}
	outcomes := make([]outcome, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		if !adapter.IsAvailable(ctx, tn.ID) {
			outcomes[i] = outcome{name: adapter.Name(), result: integration.UnavailableResult()}
			w.log.Debug("Integration not available",
				"tenant_id", tn.ID,
				"source", adapter.Name())
			continue
		}

		g.Go(func() error {
			name := adapter.Name()
			result, err := callAdapter(gctx, adapter, tn, runDate)
			if err != nil {
				result = integration.Result{
					Success:     false,
					FailedCount: 1,
					Errors:      []string{err.Error()},
				}
			}
			// Each goroutine owns its slot; errors are captured, never
			// propagated, so sibling sources are not cancelled.
			outcomes[i] = outcome{name: name, result: result, err: err}
			return nil
		})
	}
	_ = g.Wait()

	combined := &results.BusinessSyncResult{
		TenantID:     tn.ID,
		TenantName:   tn.Name,
		RunDate:      runDate,
		Integrations: make(map[string]integration.Result, len(outcomes)),
	}
	var failedSources []string
	for _, o := range outcomes {
		combined.Integrations[o.name] = o.result
		if o.err != nil {
			failedSources = append(failedSources, fmt.Sprintf("%s: %v", o.name, o.err))
		}
	}

	if err := w.results.PutBusinessResult(ctx, combined); err != nil {
		w.log.Warn("Failed to store tenant sync result",
			"tenant_id", tn.ID,
			"run_date", runDate,
			"error", err)
	}

	if len(failedSources) > 0 {
		return fmt.Errorf("%d of %d sources failed: %s",
			len(failedSources), len(adapters), strings.Join(failedSources, "; "))
	}
	return nil
}

// callAdapter shields the worker from a panicking adapter goroutine.
func callAdapter(
	ctx context.Context,
	adapter integration.SyncAdapter,
	tn tenant.Tenant,
	runDate string,
) (result integration.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panicked: %v", r)
		}
	}()
	return adapter.SyncDaily(ctx, tn.ID, runDate)
}

// finalizeRun compiles the run aggregate once all batches have reported.
// Several workers can race on the terminal count (and a retried duplicate
// can arrive late), so the compile step is claimed through a conditional
// write; losers return without touching anything.
func (w *Worker) finalizeRun(ctx context.Context, plan Plan) error {
	won, err := w.progress.TryMarkCompiled(ctx, plan.RunDate)
	if err != nil {
		return err
	}
	if !won {
		w.log.Debug("Run aggregate already compiled", "run_date", plan.RunDate)
		return nil
	}

	snapshot, err := w.progress.Read(ctx, plan.RunDate)
	if err != nil {
		return err
	}

	aggregate := &results.RunAggregate{
		RunDate:      plan.RunDate,
		TotalTenants: plan.TotalTenants,
		TotalBatches: plan.TotalBatches,
		TotalSuccess: snapshot.TotalSuccess,
		TotalFailed:  snapshot.TotalFailed,
		CompletedAt:  time.Now().UTC(),
	}
	if err := w.results.PutRunAggregate(ctx, aggregate); err != nil {
		return fmt.Errorf("failed to store run aggregate for %s: %w", plan.RunDate, err)
	}

	w.markRunCompleted(ctx, plan)

	if err := w.progress.Reset(ctx, plan.RunDate); err != nil {
		w.log.Warn("Failed to clear progress counters",
			"run_date", plan.RunDate,
			"error", err)
	}

	w.metrics.RecordRunCompleted(ctx)
	w.log.Info("All batches completed, final aggregate compiled",
		"run_date", plan.RunDate,
		"total_tenants", aggregate.TotalTenants,
		"total_batches", aggregate.TotalBatches,
		"total_success", aggregate.TotalSuccess,
		"total_failed", aggregate.TotalFailed)
	return nil
}

// markRunCompleted flips the run status to completed, preserving the start
// time recorded at dispatch.
func (w *Worker) markRunCompleted(ctx context.Context, plan Plan) {
	now := time.Now().UTC()
	status, err := w.results.GetRunStatus(ctx, plan.RunDate)
	if err != nil {
		status = &results.RunStatus{
			RunDate:   plan.RunDate,
			StartedAt: now,
		}
	}
	status.Phase = results.RunPhaseCompleted
	status.TotalTenants = plan.TotalTenants
	status.TotalBatches = plan.TotalBatches
	status.BatchSize = plan.BatchSize
	status.Message = ""
	status.UpdatedAt = now

	if err := w.results.PutRunStatus(ctx, status); err != nil {
		w.log.Warn("Failed to update run status",
			"run_date", plan.RunDate,
			"error", err)
	}
}
