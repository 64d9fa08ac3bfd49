package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// BatchProcessor handles one batch of tenants. Implemented by the sync
// worker; defined here so the queue wiring does not depend on it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, p SyncBatchPayload) error
}

// NewServer creates the asynq worker server consuming the batch queue.
// Concurrency bounds parallel batches per process; the deployment decides it.
func NewServer(redisOpt asynq.RedisClientOpt, queue string, concurrency int) *asynq.Server {
	if queue == "" {
		queue = DefaultQueue
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		Logger: &slogAdapter{log: slog.Default().With("component", "asynq")},
	})
}

// NewMux routes batch tasks to the processor.
func NewMux(processor BatchProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSyncBatch, func(ctx context.Context, t *asynq.Task) error {
		p, err := ParseSyncBatchPayload(t)
		if err != nil {
			// A malformed payload can never succeed; do not retry it.
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return processor.ProcessBatch(ctx, p)
	})
	return mux
}

// slogAdapter bridges asynq's logger interface onto slog.
type slogAdapter struct {
	log *slog.Logger
}

func (a *slogAdapter) Debug(args ...any) { a.log.Debug(fmt.Sprint(args...)) }
func (a *slogAdapter) Info(args ...any)  { a.log.Info(fmt.Sprint(args...)) }
func (a *slogAdapter) Warn(args ...any)  { a.log.Warn(fmt.Sprint(args...)) }
func (a *slogAdapter) Error(args ...any) { a.log.Error(fmt.Sprint(args...)) }
func (a *slogAdapter) Fatal(args ...any) { a.log.Error(fmt.Sprint(args...)) }
