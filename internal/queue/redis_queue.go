package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bulk-operations-engine/internal/config"
)

const (
	readyKey     = "bulkops:ready"
	inflightKey  = "bulkops:inflight"
	scheduledKey = "bulkops:scheduled"
)

// RedisQueue coordinates ready, in-flight, and scheduled operation queues
// in Redis. It carries only operation ids; the record itself lives in the
// store, so in-flight operations survive process restarts via lease
// reclaim.
type RedisQueue struct {
	client        *redis.Client
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewRedisQueueWithClient wires an existing client, used by tests.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{client: client, visibilityTTL: visibility}
}

// Enqueue inserts an operation into either the scheduled set or the ready
// queue depending on runAt.
func (q *RedisQueue) Enqueue(ctx context.Context, operationID string, runAt time.Time) error {
	if runAt.After(time.Now()) {
		return q.client.ZAdd(ctx, scheduledKey, redis.Z{
			Score:  float64(runAt.UnixMilli()),
			Member: operationID,
		}).Err()
	}
	return q.client.RPush(ctx, readyKey, operationID).Err()
}

// PromoteScheduled moves due scheduled operations into the ready queue.
// It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops an operation from the ready queue and places it
// into inflight with a visibility timeout. Empty string means nothing is
// ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{readyKey, inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	operationID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return operationID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight
// operation; the worker calls this per unit of work so long fan-outs keep
// their lease.
func (q *RedisQueue) ExtendLease(ctx context.Context, operationID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: operationID,
	}).Err()
}

// Ack removes an operation from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, operationID string) error {
	return q.client.ZRem(ctx, inflightKey, operationID).Err()
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them so a
// crashed worker's operations get picked up again.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops an operation from ready and scheduled sets. Cancellation of
// a running operation is cooperative (the worker checks the persisted
// status), so inflight entries are left for the worker to ack.
func (q *RedisQueue) Remove(ctx context.Context, operationID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, readyKey, 0, operationID)
	pipe.ZRem(ctx, scheduledKey, operationID)
	_, err := pipe.Exec(ctx)
	return err
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
