package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	log    *logger.Logger
}

func NewRedisLocker(client redis.UniversalClient, prefix string, log *logger.Logger) *RedisLocker {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisLocker{client: client, prefix: prefix, log: log}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + "lock:" + name
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		l.log.Error(err, "lock acquire failed, skipping run", "lock", name)
		return Lease{}, false
	}
	if !ok {
		return Lease{}, false
	}
	return Lease{Name: name, Token: token}, true
}

func (l *RedisLocker) Release(ctx context.Context, lease Lease) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(lease.Name)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lease.Name, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
