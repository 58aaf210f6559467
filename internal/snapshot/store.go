// Package snapshot caches the last observed state of each tracked
// repository. The cache is an optimization: every failure degrades to a
// miss, and callers treat a miss as a first observation.
package snapshot

import (
	"context"
	"time"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

// DefaultTTL must exceed the poll interval for the detector to see a prior
// snapshot on consecutive polls.
const DefaultTTL = 10 * time.Minute

// Store is the Activity Snapshot Store.
type Store interface {
	// Get returns nil when the key is absent or the store is unavailable.
	Get(ctx context.Context, key string) *model.Snapshot
	Set(ctx context.Context, key string, snap *model.Snapshot, ttl time.Duration)
	Clear(ctx context.Context, key string)
}
