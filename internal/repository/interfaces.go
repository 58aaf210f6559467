package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")
)

// All repository interfaces in one file
type (
	// TrackerRepository persists tracked repositories.
	TrackerRepository interface {
		Create(ctx context.Context, tracker *model.Tracker) error
		Get(ctx context.Context, id uuid.UUID) (*model.Tracker, error)
		ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Tracker, error)
		// ListActive returns trackers that are active and not paused, oldest check first.
		ListActive(ctx context.Context) ([]*model.Tracker, error)
		FindByUserRepo(ctx context.Context, userID uuid.UUID, owner, name string) (*model.Tracker, error)
		Delete(ctx context.Context, id uuid.UUID) error

		// MarkChecked stamps last_checked_at and clears the error budget.
		MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error
		// UpdateSignature stores a new activity signature and clears the error budget.
		UpdateSignature(ctx context.Context, id uuid.UUID, signature string, at time.Time) error
		// RecordFailure increments error_count, stores message and deactivates
		// the tracker once error_count reaches threshold. It returns the new
		// count and whether the tracker is still active.
		RecordFailure(ctx context.Context, id uuid.UUID, message string, threshold int) (int, bool, error)
		SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
		Reactivate(ctx context.Context, id uuid.UUID) error
	}

	// EventLogRepository persists deduplicated events.
	EventLogRepository interface {
		Exists(ctx context.Context, trackerID uuid.UUID, signature string) (bool, error)
		// Record inserts the entry. inserted is false when the
		// (tracker_id, event_signature) pair already exists.
		Record(ctx context.Context, entry *model.EventLogEntry) (inserted bool, err error)
		// RecordBatch inserts entries atomically. inserted[i] reports whether
		// entries[i] was new. On error nothing is written.
		RecordBatch(ctx context.Context, entries []*model.EventLogEntry) (inserted []bool, err error)
		MarkNotified(ctx context.Context, trackerID uuid.UUID, signatures []string, at time.Time) (int64, error)
		ListByTracker(ctx context.Context, trackerID uuid.UUID, limit int) ([]*model.EventLogEntry, error)
	}
)
