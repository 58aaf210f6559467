package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/pkg/circuitbreaker"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

type RedisStore struct {
	client redis.UniversalClient
	prefix string
	cb     *circuitbreaker.CircuitBreaker
	log    *logger.Logger
}

func NewRedisStore(client redis.UniversalClient, prefix string, log *logger.Logger) *RedisStore {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "snapshot-store",
			MaxFailures: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
		}),
		log: log,
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Get(ctx context.Context, key string) *model.Snapshot {
	var raw []byte
	err := s.cb.Execute(func() error {
		b, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		s.log.Warn("snapshot read failed, treating as miss", "key", key, "error", err.Error())
		return nil
	}
	if raw == nil {
		return nil
	}

	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn("discarding undecodable snapshot", "key", key, "error", err.Error())
		return nil
	}
	return &snap
}

func (s *RedisStore) Set(ctx context.Context, key string, snap *model.Snapshot, ttl time.Duration) {
	if snap == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		s.log.Error(err, "failed to encode snapshot", "key", key)
		return
	}
	err = s.cb.Execute(func() error {
		return s.client.Set(ctx, s.key(key), payload, ttl).Err()
	})
	if err != nil {
		s.log.Warn("snapshot write failed", "key", key, "error", err.Error())
	}
}

func (s *RedisStore) Clear(ctx context.Context, key string) {
	err := s.cb.Execute(func() error {
		return s.client.Del(ctx, s.key(key)).Err()
	})
	if err != nil {
		s.log.Warn("snapshot clear failed", "key", key, "error", err.Error())
	}
}
