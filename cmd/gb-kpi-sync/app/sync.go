package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/growthbeam/kpi-sync-server/internal/config"
	"github.com/growthbeam/kpi-sync-server/internal/progress"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
	kpisync "github.com/growthbeam/kpi-sync-server/internal/sync"
	"github.com/growthbeam/kpi-sync-server/internal/tenant"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger a KPI sync run",
	Long: `Trigger a KPI sync run outside the daily schedule.

By default the full active tenant set is partitioned into batches and
dispatched to the task queue; a running 'serve' instance processes them.
With --tenant-id or --batch-number, the targeted slice is processed
synchronously in this process instead.

Examples:
  # Re-dispatch the full run for yesterday
  gb-kpi-sync sync --config config.yaml

  # Re-run one tenant for a specific date
  gb-kpi-sync sync --config config.yaml --tenant-id 1d4f... --date 2026-08-29

  # Replay batch 3 of a specific date
  gb-kpi-sync sync --config config.yaml --batch-number 3 --date 2026-08-29`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("date", "", "Run date in YYYY-MM-DD form (defaults to yesterday UTC)")
	syncCmd.Flags().String("tenant-id", "", "Sync a single tenant synchronously")
	syncCmd.Flags().Int("batch-number", -1, "Replay a single batch synchronously")
	syncCmd.Flags().Int("batch-size", 0, "Tenants per batch (defaults to config)")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func buildRunRequest(cmd *cobra.Command, cfg *config.Config) (kpisync.RunRequest, error) {
	req := kpisync.RunRequest{}

	date, err := cmd.Flags().GetString("date")
	if err != nil {
		return req, err
	}
	req.RunDate = date

	batchSize, err := cmd.Flags().GetInt("batch-size")
	if err != nil {
		return req, err
	}
	if batchSize > 0 {
		req.BatchSize = batchSize
	} else {
		req.BatchSize = cfg.Sync.GetBatchSize()
	}

	tenantFlag, err := cmd.Flags().GetString("tenant-id")
	if err != nil {
		return req, err
	}
	if tenantFlag != "" {
		id, err := uuid.Parse(tenantFlag)
		if err != nil {
			return req, fmt.Errorf("invalid tenant id %q: %w", tenantFlag, err)
		}
		req.TenantID = &id
	}

	batchNumber, err := cmd.Flags().GetInt("batch-number")
	if err != nil {
		return req, err
	}
	if batchNumber >= 0 {
		req.BatchNumber = &batchNumber
	}

	return req, nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	req, err := buildRunRequest(cmd, cfg)
	if err != nil {
		return err
	}

	pool, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rdb.Close(); closeErr != nil {
			slog.Error("Error closing redis client", "error", closeErr)
		}
	}()

	registry, err := buildAdapterRegistry()
	if err != nil {
		return fmt.Errorf("failed to build adapter registry: %w", err)
	}

	redisPassword, err := cfg.Redis.GetPassword()
	if err != nil {
		return err
	}
	enqueuer := queue.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: redisPassword,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if closeErr := enqueuer.Close(); closeErr != nil {
			slog.Error("Error closing queue client", "error", closeErr)
		}
	}()

	tenantStore := tenant.NewPostgresStore(pool)
	tracker := progress.NewRedisTracker(rdb, progress.DefaultRetention)
	resultStore := results.NewRedisStore(rdb, results.DefaultTTLs())

	worker := kpisync.NewWorker(tenantStore, registry, tracker, resultStore)
	coordinator := kpisync.NewCoordinator(tenantStore, enqueuer, tracker, resultStore, worker,
		kpisync.WithDefaultBatchSize(cfg.Sync.GetBatchSize()))

	if err := coordinator.Run(ctx, req); err != nil {
		return fmt.Errorf("sync run failed: %w", err)
	}
	return nil
}
