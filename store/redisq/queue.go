// Package redisq is a redis-backed schedule for aggregator retries. Retry
// times live in a sorted set scored by next-attempt unix time, so scheduled
// retries survive process restarts. The submission rows in the primary store
// stay authoritative; the queue only answers "what is due now".
package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Config ... redis connection settings for the retry queue
type Config struct {
	Endpoint string
	Password string
	DB       int
	// KeyPrefix namespaces the sorted set per deployment.
	KeyPrefix string
}

type Queue struct {
	client *redis.Client
	key    string
}

// NewQueue connects to redis and verifies the connection.
func NewQueue(ctx context.Context, cfg Config) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Endpoint, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "evv"
	}
	return &Queue{client: client, key: prefix + ":retry"}, nil
}

// Schedule enqueues a record for retry at the given time. Re-scheduling an
// already queued record moves it.
func (q *Queue) Schedule(ctx context.Context, recordID string, at time.Time) error {
	return q.client.ZAdd(ctx, q.key, &redis.Z{
		Score:  float64(at.Unix()),
		Member: recordID,
	}).Err()
}

// Due pops up to limit record ids whose scheduled time has passed. Popped ids
// are removed; a worker that fails mid-retry re-schedules through the normal
// backoff path.
func (q *Queue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading due retries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := q.client.ZRem(ctx, q.key, members...).Err(); err != nil {
		return nil, fmt.Errorf("removing due retries: %w", err)
	}
	return ids, nil
}

// Remove drops a record from the schedule (terminal outcome).
func (q *Queue) Remove(ctx context.Context, recordID string) error {
	return q.client.ZRem(ctx, q.key, recordID).Err()
}

// Len returns the number of scheduled retries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
