package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/growthbeam/kpi-sync-server/internal/integration"
	"github.com/growthbeam/kpi-sync-server/internal/progress"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
)

// memTracker is an in-process progress.Tracker with the same atomicity
// guarantees as the Redis implementation.
type memTracker struct {
	mu        sync.Mutex
	completed map[string]int64
	success   map[string]int64
	failed    map[string]int64
	compiled  map[string]bool
}

func newMemTracker() *memTracker {
	return &memTracker{
		completed: make(map[string]int64),
		success:   make(map[string]int64),
		failed:    make(map[string]int64),
		compiled:  make(map[string]bool),
	}
}

func (t *memTracker) IncrementCompletedBatches(_ context.Context, runDate string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[runDate]++
	return t.completed[runDate], nil
}

func (t *memTracker) IncrementSuccess(_ context.Context, runDate string, n int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success[runDate] += n
	return nil
}

func (t *memTracker) IncrementFailed(_ context.Context, runDate string, n int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[runDate] += n
	return nil
}

func (t *memTracker) Read(_ context.Context, runDate string) (progress.Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return progress.Snapshot{
		CompletedBatches: t.completed[runDate],
		TotalSuccess:     t.success[runDate],
		TotalFailed:      t.failed[runDate],
	}, nil
}

func (t *memTracker) Reset(_ context.Context, runDate string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.completed, runDate)
	delete(t.success, runDate)
	delete(t.failed, runDate)
	return nil
}

func (t *memTracker) TryMarkCompiled(_ context.Context, runDate string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.compiled[runDate] {
		return false, nil
	}
	t.compiled[runDate] = true
	return true, nil
}

func (t *memTracker) ClearCompileMarker(_ context.Context, runDate string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.compiled, runDate)
	return nil
}

// memResults is an in-process results.Store that additionally counts
// aggregate writes so tests can assert exactly-once compilation.
type memResults struct {
	mu            sync.Mutex
	business      map[string]*results.BusinessSyncResult
	batches       map[string]*results.BatchResult
	aggregates    map[string]*results.RunAggregate
	statuses      map[string]*results.RunStatus
	aggregatePuts int
}

func newMemResults() *memResults {
	return &memResults{
		business:   make(map[string]*results.BusinessSyncResult),
		batches:    make(map[string]*results.BatchResult),
		aggregates: make(map[string]*results.RunAggregate),
		statuses:   make(map[string]*results.RunStatus),
	}
}

func (s *memResults) PutBusinessResult(_ context.Context, r *results.BusinessSyncResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.business[r.TenantID.String()+":"+r.RunDate] = &cp
	return nil
}

func (s *memResults) GetBusinessResult(_ context.Context, tenantID, runDate string) (*results.BusinessSyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.business[tenantID+":"+runDate]
	if !ok {
		return nil, results.ErrNotFound
	}
	return r, nil
}

func (s *memResults) PutBatchResult(_ context.Context, r *results.BatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.batches[fmt.Sprintf("%s:%d", r.RunDate, r.BatchNumber)] = &cp
	return nil
}

func (s *memResults) GetBatchResult(_ context.Context, runDate string, batchNumber int) (*results.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.batches[fmt.Sprintf("%s:%d", runDate, batchNumber)]
	if !ok {
		return nil, results.ErrNotFound
	}
	return r, nil
}

func (s *memResults) PutRunAggregate(_ context.Context, agg *results.RunAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agg
	s.aggregates[agg.RunDate] = &cp
	s.aggregatePuts++
	return nil
}

func (s *memResults) GetRunAggregate(_ context.Context, runDate string) (*results.RunAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[runDate]
	if !ok {
		return nil, results.ErrNotFound
	}
	return agg, nil
}

func (s *memResults) PutRunStatus(_ context.Context, status *results.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.statuses[status.RunDate] = &cp
	return nil
}

func (s *memResults) GetRunStatus(_ context.Context, runDate string) (*results.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[runDate]
	if !ok {
		return nil, results.ErrNotFound
	}
	cp := *status
	return &cp, nil
}

func (s *memResults) businessResultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.business)
}

func (s *memResults) aggregatePutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregatePuts
}

// fakeEnqueuer records dispatched payloads and rejects duplicates the way
// the queue's dedup lock does.
type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.SyncBatchPayload
	seen     map[string]bool
	failWith error
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{seen: make(map[string]bool)}
}

func (e *fakeEnqueuer) EnqueueSyncBatch(_ context.Context, p queue.SyncBatchPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failWith != nil {
		return e.failWith
	}
	id := queue.BatchTaskID(p.RunDate, p.BatchNumber)
	if e.seen[id] {
		return nil
	}
	e.seen[id] = true
	e.payloads = append(e.payloads, p)
	return nil
}

func (e *fakeEnqueuer) dispatched() []queue.SyncBatchPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]queue.SyncBatchPayload, len(e.payloads))
	copy(out, e.payloads)
	return out
}

// fakeAdapter is a scriptable integration.SyncAdapter.
type fakeAdapter struct {
	name      string
	available func(uuid.UUID) bool
	sync      func(uuid.UUID, string) (integration.Result, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) IsAvailable(_ context.Context, tenantID uuid.UUID) bool {
	if a.available == nil {
		return true
	}
	return a.available(tenantID)
}

func (a *fakeAdapter) SyncDaily(_ context.Context, tenantID uuid.UUID, date string) (integration.Result, error) {
	if a.sync == nil {
		return integration.Result{Success: true, SyncedCount: 1}, nil
	}
	return a.sync(tenantID, date)
}

func alwaysHealthyAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func newTestRegistry(adapters ...integration.SyncAdapter) *integration.Registry {
	reg := integration.NewRegistry()
	for _, a := range adapters {
		if err := reg.Register(a); err != nil {
			panic(err)
		}
	}
	return reg
}
