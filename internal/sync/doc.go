// Package sync implements the distributed KPI synchronization scheduler: the
// batch fan-out/fan-in coordinator that pulls daily metrics from the external
// integration sources for every tenant.
//
// # Components
//
//   - Coordinator: the entry point. Partitions the active tenant set into
//     fixed-size batches and dispatches each as an independently retryable,
//     deduplicated task — or processes a single tenant or batch synchronously
//     for manual reruns.
//   - Worker: processes one batch per task. Iterates its tenant slice
//     sequentially, invokes every available integration adapter per tenant
//     with per-source failure isolation, persists result snapshots, and
//     feeds the global progress counters.
//   - Plan: the pure batch partitioning of a run; derived entirely from
//     (runDate, totalTenants, batchSize) so any worker can reconstruct it
//     from a task payload.
//   - Watchdog: background sweep that marks runs stalled when they exceed
//     their deadline without completing.
//
// # Coordination model
//
// Workers execute in parallel across processes with no shared memory. All
// coordination goes through two Redis-backed services: the progress tracker
// (atomic increment-only counters, the single load-bearing concurrency
// primitive) and the result store (observability snapshots, never control
// flow). The worker that observes the completed-batch counter reach the
// plan's total compiles the final run aggregate; the compile step is claimed
// through a conditional write so racing observers and late duplicates cannot
// compile twice.
//
// Batches may complete in any order. A batch task that fails at the
// infrastructure level is retried a bounded number of times by the queue;
// per-tenant and per-source failures are recorded and never retried at batch
// granularity.
package sync
