package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "kpi:sync:progress"

	fieldCompletedBatches = "completed_batches"
	fieldTotalSuccess     = "total_success"
	fieldTotalFailed      = "total_failed"
	fieldCompiled         = "compiled"

	// DefaultRetention bounds the lifetime of the transient counters. A run
	// is expected to finish well within a day; anything older is stale.
	DefaultRetention = 24 * time.Hour
)

type redisTracker struct {
	client    redis.Cmdable
	retention time.Duration
}

// NewRedisTracker creates a Redis-backed tracker. A retention of zero uses
// DefaultRetention.
func NewRedisTracker(client redis.Cmdable, retention time.Duration) Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &redisTracker{
		client:    client,
		retention: retention,
	}
}

func counterKey(runDate, field string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, runDate, field)
}

// incr atomically adds n to the named counter and refreshes its retention.
// INCRBY creates the key when missing, so no separate initialization step is
// needed and there is no read-then-write window.
func (t *redisTracker) incr(ctx context.Context, runDate, field string, n int64) (int64, error) {
	key := counterKey(runDate, field)

	pipe := t.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.Expire(ctx, key, t.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s for run %s: %w", field, runDate, err)
	}
	return incr.Val(), nil
}

func (t *redisTracker) IncrementCompletedBatches(ctx context.Context, runDate string) (int64, error) {
	return t.incr(ctx, runDate, fieldCompletedBatches, 1)
}

func (t *redisTracker) IncrementSuccess(ctx context.Context, runDate string, n int64) error {
	_, err := t.incr(ctx, runDate, fieldTotalSuccess, n)
	return err
}

func (t *redisTracker) IncrementFailed(ctx context.Context, runDate string, n int64) error {
	_, err := t.incr(ctx, runDate, fieldTotalFailed, n)
	return err
}

func (t *redisTracker) Read(ctx context.Context, runDate string) (Snapshot, error) {
	vals, err := t.client.MGet(ctx,
		counterKey(runDate, fieldCompletedBatches),
		counterKey(runDate, fieldTotalSuccess),
		counterKey(runDate, fieldTotalFailed),
	).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read progress for run %s: %w", runDate, err)
	}

	counters := make([]int64, len(vals))
	for i, v := range vals {
		counters[i], err = parseCounter(v)
		if err != nil {
			return Snapshot{}, fmt.Errorf("malformed progress counter for run %s: %w", runDate, err)
		}
	}

	return Snapshot{
		CompletedBatches: counters[0],
		TotalSuccess:     counters[1],
		TotalFailed:      counters[2],
	}, nil
}

// Reset deletes the counters but deliberately leaves the compile marker in
// place: the winner resets counters after compiling, and removing the marker
// there would let a late duplicate re-claim compilation against zeroed
// counters. The marker expires with the retention window.
func (t *redisTracker) Reset(ctx context.Context, runDate string) error {
	err := t.client.Del(ctx,
		counterKey(runDate, fieldCompletedBatches),
		counterKey(runDate, fieldTotalSuccess),
		counterKey(runDate, fieldTotalFailed),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to reset progress for run %s: %w", runDate, err)
	}
	return nil
}

// ClearCompileMarker re-arms the compile guard. Called only when a fresh full
// run is initialized for a date, so a re-triggered run can compile again.
func (t *redisTracker) ClearCompileMarker(ctx context.Context, runDate string) error {
	if err := t.client.Del(ctx, counterKey(runDate, fieldCompiled)).Err(); err != nil {
		return fmt.Errorf("failed to clear compile marker for run %s: %w", runDate, err)
	}
	return nil
}

// TryMarkCompiled uses SET NX as the compile guard: the first caller for a
// run date creates the marker and wins; concurrent and repeated callers see
// the existing marker and lose.
func (t *redisTracker) TryMarkCompiled(ctx context.Context, runDate string) (bool, error) {
	ok, err := t.client.SetNX(ctx, counterKey(runDate, fieldCompiled), "1", t.retention).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim aggregate compilation for run %s: %w", runDate, err)
	}
	return ok, nil
}

func parseCounter(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter type %T", v)
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("unexpected counter value %q", s)
	}
	return n, nil
}
