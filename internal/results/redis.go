package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.Cmdable
	ttls   TTLs
}

// NewRedisStore creates a Redis-backed result store. Zero TTL fields fall
// back to the defaults.
func NewRedisStore(client redis.Cmdable, ttls TTLs) Store {
	defaults := DefaultTTLs()
	if ttls.Result <= 0 {
		ttls.Result = defaults.Result
	}
	if ttls.Aggregate <= 0 {
		ttls.Aggregate = defaults.Aggregate
	}
	return &redisStore{
		client: client,
		ttls:   ttls,
	}
}

func businessKey(tenantID, runDate string) string {
	return fmt.Sprintf("kpi:sync:result:%s:%s", tenantID, runDate)
}

func batchKey(runDate string, batchNumber int) string {
	return fmt.Sprintf("kpi:sync:batch:%s:%d", runDate, batchNumber)
}

func aggregateKey(runDate string) string {
	return fmt.Sprintf("kpi:sync:aggregate:%s", runDate)
}

func runStatusKey(runDate string) string {
	return fmt.Sprintf("kpi:sync:run:%s", runDate)
}

func (s *redisStore) put(ctx context.Context, key string, value any, expiry time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, expiry).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) get(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) PutBusinessResult(ctx context.Context, result *BusinessSyncResult) error {
	return s.put(ctx, businessKey(result.TenantID.String(), result.RunDate), result, s.ttls.Result)
}

func (s *redisStore) GetBusinessResult(ctx context.Context, tenantID, runDate string) (*BusinessSyncResult, error) {
	var out BusinessSyncResult
	if err := s.get(ctx, businessKey(tenantID, runDate), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *redisStore) PutBatchResult(ctx context.Context, result *BatchResult) error {
	return s.put(ctx, batchKey(result.RunDate, result.BatchNumber), result, s.ttls.Result)
}

func (s *redisStore) GetBatchResult(ctx context.Context, runDate string, batchNumber int) (*BatchResult, error) {
	var out BatchResult
	if err := s.get(ctx, batchKey(runDate, batchNumber), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *redisStore) PutRunAggregate(ctx context.Context, agg *RunAggregate) error {
	return s.put(ctx, aggregateKey(agg.RunDate), agg, s.ttls.Aggregate)
}

func (s *redisStore) GetRunAggregate(ctx context.Context, runDate string) (*RunAggregate, error) {
	var out RunAggregate
	if err := s.get(ctx, aggregateKey(runDate), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *redisStore) PutRunStatus(ctx context.Context, status *RunStatus) error {
	return s.put(ctx, runStatusKey(status.RunDate), status, s.ttls.Aggregate)
}

func (s *redisStore) GetRunStatus(ctx context.Context, runDate string) (*RunStatus, error) {
	var out RunStatus
	if err := s.get(ctx, runStatusKey(runDate), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
