package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
)

const trackerColumns = `
	id, user_id, notify_email, owner, name, full_name, subscriptions,
	is_active, is_paused, last_activity_signature, last_checked_at,
	error_count, last_error, created_at, updated_at`

type trackerRepository struct {
	BaseRepository
}

func NewTrackerRepository(base BaseRepository) repository.TrackerRepository {
	return &trackerRepository{base}
}

func (r *trackerRepository) Create(ctx context.Context, tracker *model.Tracker) error {
	query := `
		INSERT INTO trackers (
			id, user_id, notify_email, owner, name, full_name, subscriptions,
			is_active, is_paused, error_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $11
		)
	`
	if tracker.ID == uuid.Nil {
		tracker.ID = uuid.New()
	}
	tracker.CreatedAt = time.Now().UTC()
	tracker.UpdatedAt = tracker.CreatedAt
	tracker.ErrorCount = 0

	_, err := r.db.ExecContext(ctx, query,
		tracker.ID,
		tracker.UserID,
		tracker.NotifyEmail,
		tracker.Owner,
		tracker.Name,
		tracker.FullName,
		tracker.Subscriptions,
		tracker.IsActive,
		tracker.IsPaused,
		tracker.CreatedAt,
		tracker.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create tracker: %w", translate(err))
	}
	return nil
}

func (r *trackerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Tracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM trackers WHERE id = $1`

	var tracker model.Tracker
	if err := r.db.GetContext(ctx, &tracker, query, id); err != nil {
		return nil, fmt.Errorf("failed to get tracker: %w", translate(err))
	}
	return &tracker, nil
}

func (r *trackerRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Tracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM trackers WHERE user_id = $1 ORDER BY created_at DESC`

	trackers := []*model.Tracker{}
	if err := r.db.SelectContext(ctx, &trackers, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list trackers: %w", err)
	}
	return trackers, nil
}

func (r *trackerRepository) ListActive(ctx context.Context) ([]*model.Tracker, error) {
	query := `
		SELECT ` + trackerColumns + `
		FROM trackers
		WHERE is_active AND NOT is_paused
		ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
	`
	trackers := []*model.Tracker{}
	if err := r.db.SelectContext(ctx, &trackers, query); err != nil {
		return nil, fmt.Errorf("failed to list active trackers: %w", err)
	}
	return trackers, nil
}

func (r *trackerRepository) FindByUserRepo(ctx context.Context, userID uuid.UUID, owner, name string) (*model.Tracker, error) {
	query := `
		SELECT ` + trackerColumns + `
		FROM trackers
		WHERE user_id = $1 AND lower(owner) = lower($2) AND lower(name) = lower($3)
	`
	var tracker model.Tracker
	if err := r.db.GetContext(ctx, &tracker, query, userID, owner, name); err != nil {
		return nil, fmt.Errorf("failed to find tracker: %w", translate(err))
	}
	return &tracker, nil
}

func (r *trackerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trackers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tracker: %w", err)
	}
	return requireAffected(res)
}

func (r *trackerRepository) MarkChecked(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE trackers
		SET last_checked_at = $1, error_count = 0, last_error = NULL, updated_at = $1
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark tracker checked: %w", err)
	}
	return requireAffected(res)
}

func (r *trackerRepository) UpdateSignature(ctx context.Context, id uuid.UUID, signature string, at time.Time) error {
	query := `
		UPDATE trackers
		SET last_activity_signature = $1, last_checked_at = $2,
		    error_count = 0, last_error = NULL, updated_at = $2
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, signature, at, id)
	if err != nil {
		return fmt.Errorf("failed to update tracker signature: %w", err)
	}
	return requireAffected(res)
}

func (r *trackerRepository) RecordFailure(ctx context.Context, id uuid.UUID, message string, threshold int) (int, bool, error) {
	query := `
		UPDATE trackers
		SET error_count = error_count + 1,
		    last_error = $1,
		    last_checked_at = $2,
		    is_active = CASE WHEN error_count + 1 >= $3 THEN FALSE ELSE is_active END,
		    updated_at = $2
		WHERE id = $4
		RETURNING error_count, is_active
	`
	var out struct {
		ErrorCount int  `db:"error_count"`
		IsActive   bool `db:"is_active"`
	}
	err := r.db.GetContext(ctx, &out, query, message, time.Now().UTC(), threshold, id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to record tracker failure: %w", translate(err))
	}
	return out.ErrorCount, out.IsActive, nil
}

func (r *trackerRepository) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE trackers SET is_paused = $1, updated_at = $2 WHERE id = $3`,
		paused, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update tracker: %w", err)
	}
	return requireAffected(res)
}

func (r *trackerRepository) Reactivate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE trackers
		SET is_active = TRUE, error_count = 0, last_error = NULL, updated_at = $1
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to reactivate tracker: %w", err)
	}
	return requireAffected(res)
}
