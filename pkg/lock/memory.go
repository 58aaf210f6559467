package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	token   string
	expires time.Time
}

// MemoryLocker is a single-process Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]entry), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[name]; ok && now.Before(e.expires) {
		return Lease{}, false
	}
	token := uuid.NewString()
	l.locks[name] = entry{token: token, expires: now.Add(ttl)}
	return Lease{Name: name, Token: token}, true
}

func (l *MemoryLocker) Release(_ context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[lease.Name]
	if !ok || e.token != lease.Token || !l.now().Before(e.expires) {
		return ErrNotHeld
	}
	delete(l.locks, lease.Name)
	return nil
}
