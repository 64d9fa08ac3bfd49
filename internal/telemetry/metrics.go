// Package telemetry provides OpenTelemetry instrumentation for the KPI sync
// scheduler.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMetricsMeterName is the name used for the sync metrics meter
const SyncMetricsMeterName = "github.com/growthbeam/kpi-sync-server/internal/sync"

// SyncMetrics holds the OpenTelemetry instruments for sync operation metrics
type SyncMetrics struct {
	batchDuration metric.Float64Histogram
	tenantSyncs   metric.Int64Counter
	runsCompleted metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter
// provider. If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	batchDuration, err := meter.Float64Histogram(
		"gb_kpi_sync_batch_duration",
		metric.WithDescription("Duration of batch sync executions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	tenantSyncs, err := meter.Int64Counter(
		"gb_kpi_sync_tenants",
		metric.WithDescription("Number of tenant syncs by outcome"),
		metric.WithUnit("{tenant}"),
	)
	if err != nil {
		return nil, err
	}

	runsCompleted, err := meter.Int64Counter(
		"gb_kpi_sync_runs_completed",
		metric.WithDescription("Number of sync runs whose final aggregate was compiled"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		batchDuration: batchDuration,
		tenantSyncs:   tenantSyncs,
		runsCompleted: runsCompleted,
	}, nil
}

// RecordBatchDuration records the execution time of one batch.
func (m *SyncMetrics) RecordBatchDuration(ctx context.Context, duration time.Duration, clean bool) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("clean", clean),
	))
}

// RecordTenantSyncs adds tenant sync outcomes for one batch.
func (m *SyncMetrics) RecordTenantSyncs(ctx context.Context, success, failed int64) {
	if m == nil || m.tenantSyncs == nil {
		return
	}
	if success > 0 {
		m.tenantSyncs.Add(ctx, success, metric.WithAttributes(
			attribute.String("outcome", "success"),
		))
	}
	if failed > 0 {
		m.tenantSyncs.Add(ctx, failed, metric.WithAttributes(
			attribute.String("outcome", "failed"),
		))
	}
}

// RecordRunCompleted records a compiled run aggregate.
func (m *SyncMetrics) RecordRunCompleted(ctx context.Context) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.Add(ctx, 1)
}
