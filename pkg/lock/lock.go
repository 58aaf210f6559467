// Package lock provides named, TTL-bounded mutual exclusion for batch jobs.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the lease no longer owns the lock.
var ErrNotHeld = errors.New("lock not held")

// Lease identifies one successful acquisition.
type Lease struct {
	Name  string
	Token string
}

// Locker is implemented by RedisLocker and MemoryLocker.
type Locker interface {
	// Acquire returns ok=false when the lock is held elsewhere or the
	// backing store cannot be reached.
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool)
	// Release deletes the lock only if it is still held by lease.
	Release(ctx context.Context, lease Lease) error
}
