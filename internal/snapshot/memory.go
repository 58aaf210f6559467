package snapshot

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

// MemoryStore keeps snapshots in process. Stored values are copied on the
// way in and out.
type MemoryStore struct {
	c *cache.Cache
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &MemoryStore{c: cache.New(defaultTTL, 2*defaultTTL)}
}

func (s *MemoryStore) Get(_ context.Context, key string) *model.Snapshot {
	v, ok := s.c.Get(key)
	if !ok {
		return nil
	}
	snap := v.(model.Snapshot)
	return &snap
}

func (s *MemoryStore) Set(_ context.Context, key string, snap *model.Snapshot, ttl time.Duration) {
	if snap == nil {
		return
	}
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	s.c.Set(key, *snap, ttl)
}

func (s *MemoryStore) Clear(_ context.Context, key string) {
	s.c.Delete(key)
}
