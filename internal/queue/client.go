package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// DefaultBatchTimeout is the hard execution timeout for one batch task
	DefaultBatchTimeout = 10 * time.Minute

	// DefaultMaxRetry bounds queue-level retries of a failed batch task
	DefaultMaxRetry = 3
)

// Enqueuer dispatches batch tasks. The coordinator depends on this interface
// so tests can capture dispatches without a running Redis.
type Enqueuer interface {
	// EnqueueSyncBatch dispatches one batch task, fire-and-forget. Enqueueing
	// a batch whose dedup lock is still held is a no-op, not an error.
	EnqueueSyncBatch(ctx context.Context, p SyncBatchPayload) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithQueue overrides the queue name batch tasks are dispatched to.
func WithQueue(name string) ClientOption {
	return func(c *Client) {
		c.queue = name
	}
}

// WithBatchTimeout overrides the per-task execution timeout. The dedup lock
// duration follows it.
func WithBatchTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetry overrides the queue-level retry bound.
func WithMaxRetry(n int) ClientOption {
	return func(c *Client) {
		c.maxRetry = n
	}
}

// Client enqueues batch tasks onto the Redis-backed queue.
type Client struct {
	client   *asynq.Client
	queue    string
	timeout  time.Duration
	maxRetry int
	log      *slog.Logger
}

// NewClient creates a queue client over the given Redis connection.
func NewClient(redisOpt asynq.RedisClientOpt, opts ...ClientOption) *Client {
	c := &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    DefaultQueue,
		timeout:  DefaultBatchTimeout,
		maxRetry: DefaultMaxRetry,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnqueueSyncBatch implements Enqueuer.
//
// The task ID and unique lock both derive from (runDate, batchNumber), so a
// second dispatch of the same batch is rejected while the first is pending or
// in flight. The unique lock is held for the execution timeout or until the
// task completes, whichever comes first.
func (c *Client) EnqueueSyncBatch(ctx context.Context, p SyncBatchPayload) error {
	task, err := NewSyncBatchTask(p)
	if err != nil {
		return err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.TaskID(BatchTaskID(p.RunDate, p.BatchNumber)),
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
		asynq.Unique(c.timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
			c.log.Info("Batch task already in flight, skipping dispatch",
				"run_date", p.RunDate,
				"batch_number", p.BatchNumber)
			return nil
		}
		return fmt.Errorf("failed to enqueue batch %d for run %s: %w", p.BatchNumber, p.RunDate, err)
	}

	c.log.Debug("Enqueued batch task",
		"task_id", info.ID,
		"queue", info.Queue,
		"run_date", p.RunDate,
		"batch_number", p.BatchNumber)
	return nil
}

// Close releases the underlying Redis connections.
func (c *Client) Close() error {
	return c.client.Close()
}
