package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lockers(t *testing.T) map[string]Locker {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Locker{
		"redis":  NewRedisLocker(client, "test:", nil),
		"memory": NewMemoryLocker(),
	}
}

func TestConcurrentAcquireHasSingleWinner(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok := l.Acquire(context.Background(), "check-trackers-job", time.Minute); ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, 1, wins)
		})
	}
}

func TestReleaseRequiresToken(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			lease, ok := l.Acquire(ctx, "job", time.Minute)
			require.True(t, ok)

			err := l.Release(ctx, Lease{Name: "job", Token: "someone-else"})
			assert.ErrorIs(t, err, ErrNotHeld)

			_, ok = l.Acquire(ctx, "job", time.Minute)
			assert.False(t, ok)

			require.NoError(t, l.Release(ctx, lease))
			_, ok = l.Acquire(ctx, "job", time.Minute)
			assert.True(t, ok)
		})
	}
}

func TestRedisLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewRedisLocker(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", nil)
	ctx := context.Background()

	stale, ok := l.Acquire(ctx, "job", time.Minute)
	require.True(t, ok)
	assert.True(t, mr.Exists("lock:job"))

	mr.FastForward(2 * time.Minute)
	fresh, ok := l.Acquire(ctx, "job", time.Minute)
	require.True(t, ok)

	assert.ErrorIs(t, l.Release(ctx, stale), ErrNotHeld)
	assert.NoError(t, l.Release(ctx, fresh))
}

func TestRedisLockFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewRedisLocker(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "", nil)
	mr.Close()

	_, ok := l.Acquire(context.Background(), "job", time.Minute)
	assert.False(t, ok)
}

func TestMemoryLockExpires(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Now()
	l.now = func() time.Time { return now }

	_, ok := l.Acquire(context.Background(), "job", time.Second)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = l.Acquire(context.Background(), "job", time.Second)
	assert.True(t, ok)
}
