package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/growthbeam/kpi-sync-server/internal/config"
	"github.com/growthbeam/kpi-sync-server/internal/integration"
	"github.com/growthbeam/kpi-sync-server/internal/progress"
	"github.com/growthbeam/kpi-sync-server/internal/queue"
	"github.com/growthbeam/kpi-sync-server/internal/results"
	kpisync "github.com/growthbeam/kpi-sync-server/internal/sync"
	"github.com/growthbeam/kpi-sync-server/internal/telemetry"
	"github.com/growthbeam/kpi-sync-server/internal/tenant"
	"github.com/growthbeam/kpi-sync-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the KPI sync server",
	Long: `Start the KPI sync server.

The server runs the batch workers, the daily schedule, the stale-run watchdog,
and an HTTP endpoint for health checks and metrics. It requires a configuration
file (--config) specifying the database, Redis, and sync settings.

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second

	connectRetryBudget = 30 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address for the health/metrics endpoint (overrides config)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// adapterBuilders holds the source adapter constructors registered by the
// build. The per-source API clients live in deployment-specific packages;
// they register themselves here from an init function.
var adapterBuilders []func() integration.SyncAdapter

// RegisterAdapterBuilder registers a source adapter constructor to be
// instantiated when the server starts.
func RegisterAdapterBuilder(build func() integration.SyncAdapter) {
	adapterBuilders = append(adapterBuilders, build)
}

func buildAdapterRegistry() (*integration.Registry, error) {
	registry := integration.NewRegistry()
	for _, build := range adapterBuilders {
		if err := registry.Register(build()); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// connectDatabase opens the connection pool and verifies connectivity,
// retrying with exponential backoff while the database comes up.
func connectDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.Database.MaxOpenConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, pool.Ping(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectRetryBudget))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// connectRedis opens the Redis client and verifies connectivity with the same
// retry budget as the database.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	password, err := cfg.Redis.GetPassword()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: password,
		DB:       cfg.Redis.DB,
	})

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(connectRetryBudget))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func newHealthRouter(pool *pgxpool.Pool, rdb *redis.Client, promRegistry *prometheus.Registry) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	return router
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	address := viper.GetString("address")
	if address == "" {
		address = cfg.Server.GetAddress()
	}

	slog.Info("Starting KPI sync server",
		"address", address,
		"batch_size", cfg.Sync.GetBatchSize(),
		"schedule", cfg.Sync.GetSchedule(),
		"concurrency", cfg.Sync.GetConcurrency())

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
	if registry.Len() == 0 {
		slog.Warn("No source adapters registered; tenant syncs will record empty results")
	}

	// Telemetry
	promRegistry := prometheus.NewRegistry()
	meterProvider, err := telemetry.NewPrometheusMeterProvider(
		promRegistry, "gb-kpi-sync", versions.GetVersionInfo().Version)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	metrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	// Core wiring
	tenantStore := tenant.NewPostgresStore(pool)
	tracker := progress.NewRedisTracker(rdb, progress.DefaultRetention)
	resultStore := results.NewRedisStore(rdb, results.DefaultTTLs())

	redisPassword, err := cfg.Redis.GetPassword()
	if err != nil {
		return err
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: redisPassword,
		DB:       cfg.Redis.DB,
	}

	enqueuer := queue.NewClient(redisOpt)
	defer func() {
		if closeErr := enqueuer.Close(); closeErr != nil {
			slog.Error("Error closing queue client", "error", closeErr)
		}
	}()

	worker := kpisync.NewWorker(tenantStore, registry, tracker, resultStore,
		kpisync.WithWorkerMetrics(metrics))
	coordinator := kpisync.NewCoordinator(tenantStore, enqueuer, tracker, resultStore, worker,
		kpisync.WithDefaultBatchSize(cfg.Sync.GetBatchSize()))

	// Batch task consumer
	taskServer := queue.NewServer(redisOpt, queue.DefaultQueue, cfg.Sync.GetConcurrency())
	if err := taskServer.Start(queue.NewMux(worker)); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}

	// Daily schedule for the full fan-out run
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Sync.GetSchedule(), func() {
		if runErr := coordinator.Run(context.Background(), kpisync.RunRequest{}); runErr != nil {
			slog.Error("Scheduled sync run failed", "error", runErr)
		}
	})
	if err != nil {
		taskServer.Shutdown()
		return fmt.Errorf("invalid sync schedule %q: %w", cfg.Sync.GetSchedule(), err)
	}
	scheduler.Start()

	// Stale-run watchdog
	watchdog := kpisync.NewWatchdog(resultStore,
		kpisync.WithStaleAfter(cfg.Sync.GetStaleAfter()))
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		if wErr := watchdog.Start(watchdogCtx); wErr != nil {
			slog.Error("Watchdog failed", "error", wErr)
		}
	}()

	// Health and metrics endpoint
	server := &http.Server{
		Addr:         address,
		Handler:      newHealthRouter(pool, rdb, promRegistry),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}
	go func() {
		slog.Info("Health endpoint listening", "address", address)
		if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			slog.Error("Health endpoint failed", "error", srvErr)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	if err := watchdog.Stop(); err != nil {
		slog.Error("Failed to stop watchdog", "error", err)
	}

	// Lets in-flight batch tasks finish before closing shared clients.
	taskServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health endpoint forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
