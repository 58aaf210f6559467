package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
)

type eventLogRepository struct {
	BaseRepository
}

func NewEventLogRepository(base BaseRepository) repository.EventLogRepository {
	return &eventLogRepository{base}
}

func (r *eventLogRepository) Exists(ctx context.Context, trackerID uuid.UUID, signature string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM event_log WHERE tracker_id = $1 AND event_signature = $2)`,
		trackerID, signature)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return exists, nil
}

// Record relies on the (tracker_id, event_signature) constraint so that two
// overlapping runs cannot both insert the same event.
func (r *eventLogRepository) Record(ctx context.Context, entry *model.EventLogEntry) (bool, error) {
	return insertEvent(ctx, r.db, entry)
}

// RecordBatch writes all of one tracker's new events in a single transaction.
func (r *eventLogRepository) RecordBatch(ctx context.Context, entries []*model.EventLogEntry) ([]bool, error) {
	inserted := make([]bool, len(entries))
	if len(entries) == 0 {
		return inserted, nil
	}
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		for i, entry := range entries {
			ok, err := insertEvent(ctx, tx, entry)
			if err != nil {
				return err
			}
			inserted[i] = ok
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func insertEvent(ctx context.Context, db sqlx.ExecerContext, entry *model.EventLogEntry) (bool, error) {
	if entry == nil {
		return false, fmt.Errorf("event cannot be nil")
	}
	query := `
		INSERT INTO event_log (
			id, tracker_id, event_kind, payload, event_signature, detected_at, notification_sent
		) VALUES (
			$1, $2, $3, $4, $5, $6, FALSE
		)
		ON CONFLICT ON CONSTRAINT event_log_tracker_signature_key DO NOTHING
	`
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.DetectedAt.IsZero() {
		entry.DetectedAt = time.Now().UTC()
	}

	res, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.TrackerID,
		entry.EventKind,
		string(entry.Payload),
		entry.EventSignature,
		entry.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", translate(err))
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *eventLogRepository) MarkNotified(ctx context.Context, trackerID uuid.UUID, signatures []string, at time.Time) (int64, error) {
	if len(signatures) == 0 {
		return 0, nil
	}
	query := `
		UPDATE event_log
		SET notification_sent = TRUE, notified_at = $1
		WHERE tracker_id = $2 AND event_signature = ANY($3) AND NOT notification_sent
	`
	res, err := r.db.ExecContext(ctx, query, at, trackerID, pq.Array(signatures))
	if err != nil {
		return 0, fmt.Errorf("failed to mark events notified: %w", err)
	}
	return res.RowsAffected()
}

func (r *eventLogRepository) ListByTracker(ctx context.Context, trackerID uuid.UUID, limit int) ([]*model.EventLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tracker_id, event_kind, payload, event_signature,
		       detected_at, notification_sent, notified_at
		FROM event_log
		WHERE tracker_id = $1
		ORDER BY detected_at DESC
		LIMIT $2
	`
	entries := []*model.EventLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, trackerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return entries, nil
}
