package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthbeam/kpi-sync-server/internal/integration"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
	"github.com/growthbeam/kpi-sync-server/internal/tenant"
)

func makeTenants(n int) []tenant.Tenant {
	tenants := make([]tenant.Tenant, n)
	for i := range tenants {
		tenants[i] = tenant.Tenant{
			ID:   uuid.New(),
			Name: fmt.Sprintf("business-%02d", i),
		}
	}
	return tenants
}

func TestWorkerProcessBatchPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	tenants := makeTenants(5)
	store := tenant.NewInMemoryStore(tenants...)

	// The store orders tenants by ID, so resolve which ID lands third.
	page, err := store.ListActivePage(context.Background(), 0, 5)
	require.NoError(t, err)
	failing := page[2].ID

	adapter := &fakeAdapter{
		name: "google_ads",
		sync: func(id uuid.UUID, _ string) (integration.Result, error) {
			if id == failing {
				return integration.Result{}, errors.New("token expired")
			}
			return integration.Result{Success: true, SyncedCount: 3}, nil
		},
	}

	tracker := newMemTracker()
	resultStore := newMemResults()
	worker := NewWorker(store, newTestRegistry(adapter), tracker, resultStore)

	err = worker.ProcessBatch(context.Background(), queue.SyncBatchPayload{
		BatchNumber:  0,
		RunDate:      "2026-08-30",
		BatchSize:    5,
		TotalTenants: 5,
	})
	require.NoError(t, err, "per-tenant failures must not fail the batch")

	batch, err := resultStore.GetBatchResult(context.Background(), "2026-08-30", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, batch.TenantCount)
	assert.Equal(t, 4, batch.SuccessCount)
	assert.Equal(t, 1, batch.ErrorCount)

	// Every tenant gets a persisted result, the failed one included.
	assert.Equal(t, 5, resultStore.businessResultCount())
	failedResult, err := resultStore.GetBusinessResult(context.Background(), failing.String(), "2026-08-30")
	require.NoError(t, err)
	assert.False(t, failedResult.Integrations["google_ads"].Success)
	assert.Contains(t, failedResult.Integrations["google_ads"].Errors[0], "token expired")
}

func TestWorkerProcessBatchPanicIsolatedToTenant(t *testing.T) {
	t.Parallel()

	tenants := makeTenants(3)
	store := tenant.NewInMemoryStore(tenants...)
	page, err := store.ListActivePage(context.Background(), 0, 3)
	require.NoError(t, err)
	panicking := page[0].ID

	adapter := &fakeAdapter{
		name: "meta_ads",
		sync: func(id uuid.UUID, _ string) (integration.Result, error) {
			if id == panicking {
				panic("nil dereference in response parsing")
			}
			return integration.Result{Success: true, SyncedCount: 1}, nil
		},
	}

	resultStore := newMemResults()
	worker := NewWorker(store, newTestRegistry(adapter), newMemTracker(), resultStore)

	err = worker.ProcessBatch(context.Background(), queue.SyncBatchPayload{
		BatchNumber:  0,
		RunDate:      "2026-08-30",
		BatchSize:    10,
		TotalTenants: 3,
	})
	require.NoError(t, err)

	batch, err := resultStore.GetBatchResult(context.Background(), "2026-08-30", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.SuccessCount)
	assert.Equal(t, 1, batch.ErrorCount)
}

func TestWorkerProcessBatchTenantLoadErrorRetriable(t *testing.T) {
	t.Parallel()

	worker := NewWorker(failingTenantStore{}, newTestRegistry(), newMemTracker(), newMemResults())

	err := worker.ProcessBatch(context.Background(), queue.SyncBatchPayload{
		BatchNumber:  2,
		RunDate:      "2026-08-30",
		BatchSize:    20,
		TotalTenants: 100,
	})
	require.Error(t, err, "infrastructure failures must surface so the queue retries")
	assert.Contains(t, err.Error(), "batch 2")
}

type failingTenantStore struct{}

func (failingTenantStore) CountActive(context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingTenantStore) ListActivePage(context.Context, int, int) ([]tenant.Tenant, error) {
	return nil, errors.New("connection refused")
}

func (failingTenantStore) GetTenant(context.Context, uuid.UUID) (tenant.Tenant, error) {
	return tenant.Tenant{}, errors.New("connection refused")
}

func TestWorkerFinalBatchCompilesAggregate(t *testing.T) {
	t.Parallel()

	tenants := makeTenants(3)
	store := tenant.NewInMemoryStore(tenants...)
	tracker := newMemTracker()
	resultStore := newMemResults()
	worker := NewWorker(store, newTestRegistry(alwaysHealthyAdapter("shopify")), tracker, resultStore)

	err := worker.ProcessBatch(context.Background(), queue.SyncBatchPayload{
		BatchNumber:  0,
		RunDate:      "2026-08-30",
		BatchSize:    10,
		TotalTenants: 3,
	})
	require.NoError(t, err)

	agg, err := resultStore.GetRunAggregate(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, 3, agg.TotalTenants)
	assert.Equal(t, 1, agg.TotalBatches)
	assert.Equal(t, int64(3), agg.TotalSuccess)
	assert.Equal(t, int64(0), agg.TotalFailed)

	status, err := resultStore.GetRunStatus(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, results.RunPhaseCompleted, status.Phase)

	// Counters are cleared once the aggregate is compiled.
	snapshot, err := tracker.Read(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Zero(t, snapshot.CompletedBatches)
	assert.Zero(t, snapshot.TotalSuccess)
}

func TestWorkerAggregateCompiledExactlyOnce(t *testing.T) {
	t.Parallel()

	const (
		totalTenants = 200
		batchSize    = 20
		totalBatches = 10
	)

	tenants := makeTenants(totalTenants)
	store := tenant.NewInMemoryStore(tenants...)
	tracker := newMemTracker()
	resultStore := newMemResults()
	worker := NewWorker(store, newTestRegistry(alwaysHealthyAdapter("stripe")), tracker, resultStore)

	// Batches finish in random order across goroutines; exactly one of
	// them must compile the aggregate, and it must see full totals.
	order := rand.Perm(totalBatches)
	var wg sync.WaitGroup
	for _, n := range order {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := worker.ProcessBatch(context.Background(), queue.SyncBatchPayload{
				BatchNumber:  n,
				RunDate:      "2026-08-30",
				BatchSize:    batchSize,
				TotalTenants: totalTenants,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, resultStore.aggregatePutCount())

	agg, err := resultStore.GetRunAggregate(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, totalTenants, agg.TotalTenants)
	assert.Equal(t, totalBatches, agg.TotalBatches)
	assert.Equal(t, int64(totalTenants), agg.TotalSuccess)
	assert.Equal(t, int64(0), agg.TotalFailed)
}

func TestWorkerLateDuplicateAfterCompileIsNoop(t *testing.T) {
	t.Parallel()

	tenants := makeTenants(2)
	store := tenant.NewInMemoryStore(tenants...)
	tracker := newMemTracker()
	resultStore := newMemResults()
	worker := NewWorker(store, newTestRegistry(alwaysHealthyAdapter("shopify")), tracker, resultStore)

	payload := queue.SyncBatchPayload{
		BatchNumber:  0,
		RunDate:      "2026-08-30",
		BatchSize:    5,
		TotalTenants: 2,
	}
	require.NoError(t, worker.ProcessBatch(context.Background(), payload))
	require.Equal(t, 1, resultStore.aggregatePutCount())

	// A retried duplicate of the final batch lands after the counters were
	// reset. It reaches the terminal count again but loses the compile
	// claim, so the aggregate is not rewritten with the reset totals.
	require.NoError(t, worker.ProcessBatch(context.Background(), payload))
	assert.Equal(t, 1, resultStore.aggregatePutCount())

	agg, err := resultStore.GetRunAggregate(context.Background(), "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.TotalSuccess)
}

func TestWorkerSyncTenantUnavailableSourceRecorded(t *testing.T) {
	t.Parallel()

	tn := tenant.Tenant{ID: uuid.New(), Name: "acme-commerce"}
	connected := alwaysHealthyAdapter("google_ads")
	disconnected := &fakeAdapter{
		name:      "meta_ads",
		available: func(uuid.UUID) bool { return false },
		sync: func(uuid.UUID, string) (integration.Result, error) {
			t.Error("SyncDaily must not be called for an unavailable source")
			return integration.Result{}, nil
		},
	}

	resultStore := newMemResults()
	worker := NewWorker(
		tenant.NewInMemoryStore(tn),
		newTestRegistry(connected, disconnected),
		newMemTracker(),
		resultStore,
	)

	err := worker.SyncTenant(context.Background(), tn, "2026-08-30")
	require.NoError(t, err, "an unavailable source is not a failure")

	r, err := resultStore.GetBusinessResult(context.Background(), tn.ID.String(), "2026-08-30")
	require.NoError(t, err)
	require.Len(t, r.Integrations, 2)
	assert.True(t, r.Integrations["google_ads"].Success)
	assert.False(t, r.Integrations["meta_ads"].Success)
	assert.Contains(t, r.Integrations["meta_ads"].Message, "not available")
}

func TestWorkerSyncTenantSourceFailureIsolated(t *testing.T) {
	t.Parallel()

	tn := tenant.Tenant{ID: uuid.New(), Name: "acme-commerce"}
	healthy := alwaysHealthyAdapter("shopify")
	broken := &fakeAdapter{
		name: "stripe",
		sync: func(uuid.UUID, string) (integration.Result, error) {
			return integration.Result{}, errors.New("rate limited")
		},
	}

	resultStore := newMemResults()
	worker := NewWorker(
		tenant.NewInMemoryStore(tn),
		newTestRegistry(healthy, broken),
		newMemTracker(),
		resultStore,
	)

	err := worker.SyncTenant(context.Background(), tn, "2026-08-30")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 sources failed")
	assert.Contains(t, err.Error(), "stripe")

	// The healthy source's outcome is persisted alongside the failure.
	r, err := resultStore.GetBusinessResult(context.Background(), tn.ID.String(), "2026-08-30")
	require.NoError(t, err)
	assert.True(t, r.Integrations["shopify"].Success)
	assert.False(t, r.Integrations["stripe"].Success)
}
