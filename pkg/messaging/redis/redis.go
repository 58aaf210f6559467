package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/repo-tracker/pkg/messaging"
)

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// NewClient opens a pooled client and verifies the connection.
func NewClient(ctx context.Context, config Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	if config.MaxRetries != 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.RetryBackoff > 0 {
		opts.MinRetryBackoff = config.RetryBackoff
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Queue stores JSON-encoded items in a Redis list (RPUSH / LPOP) with a
// sibling dead-letter list.
type Queue[T any] struct {
	client  redis.UniversalClient
	key     string
	deadKey string
}

var _ messaging.Queue[struct{}] = (*Queue[struct{}])(nil)

func NewQueue[T any](client redis.UniversalClient, key, deadKey string) *Queue[T] {
	if deadKey == "" {
		deadKey = key + ":dead"
	}
	return &Queue[T]{client: client, key: key, deadKey: deadKey}
}

func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	return q.push(ctx, q.key, item)
}

func (q *Queue[T]) Dequeue(ctx context.Context) (T, bool, error) {
	var item T
	raw, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return item, false, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("failed to dequeue from %s: %w", q.key, err)
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		// The raw value is already off the queue; park it instead of losing it.
		if dlErr := q.client.RPush(ctx, q.deadKey, raw).Err(); dlErr != nil {
			return item, false, errors.Join(err, dlErr)
		}
		return item, false, fmt.Errorf("failed to decode queue item: %w", err)
	}
	return item, true, nil
}

func (q *Queue[T]) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *Queue[T]) DeadLetter(ctx context.Context, item T) error {
	return q.push(ctx, q.deadKey, item)
}

func (q *Queue[T]) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadKey).Result()
}

func (q *Queue[T]) push(ctx context.Context, key string, item T) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}
