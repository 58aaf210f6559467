// Package tracker manages user subscriptions to repositories.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
	"github.com/jwalitptl/repo-tracker/internal/snapshot"
	"github.com/jwalitptl/repo-tracker/internal/source"
	apperrors "github.com/jwalitptl/repo-tracker/pkg/errors"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}$`)

type CreateInput struct {
	UserID        uuid.UUID
	Email         string
	Owner         string
	Name          string
	Subscriptions model.Subscriptions
}

type Service struct {
	repo      repository.TrackerRepository
	events    repository.EventLogRepository
	source    source.Source
	snapshots snapshot.Store
	log       *logger.Logger
}

func NewService(
	repo repository.TrackerRepository,
	events repository.EventLogRepository,
	src source.Source,
	snapshots snapshot.Store,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, events: events, source: src, snapshots: snapshots, log: log}
}

// Create subscribes a user to a public, non-archived repository.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Tracker, error) {
	owner, name := strings.TrimSpace(in.Owner), strings.TrimSpace(in.Name)
	if !namePattern.MatchString(owner) || !namePattern.MatchString(name) {
		return nil, apperrors.BadRequest("invalid repository owner or name", nil)
	}
	subs, err := normalizeSubscriptions(in.Subscriptions)
	if err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	if _, err := s.repo.FindByUserRepo(ctx, in.UserID, owner, name); err == nil {
		return nil, apperrors.Conflict("repository is already tracked", nil)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	status, err := s.source.VerifyResource(ctx, owner, name)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to verify repository: %w", err))
	}
	switch {
	case !status.Exists:
		return nil, apperrors.NotFound("repository", source.ErrNotFound)
	case status.IsPrivate:
		return nil, apperrors.BadRequest("private repositories cannot be tracked", nil)
	case status.IsArchived:
		return nil, apperrors.BadRequest("archived repositories cannot be tracked", nil)
	}

	fullName := status.FullName
	if fullName == "" {
		fullName = owner + "/" + name
	}
	t := &model.Tracker{
		UserID:        in.UserID,
		NotifyEmail:   in.Email,
		Owner:         owner,
		Name:          name,
		FullName:      fullName,
		Subscriptions: subs,
		IsActive:      true,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("repository is already tracked", err)
		}
		return nil, apperrors.Internal(err)
	}

	s.log.Info("tracker created", "tracker_id", t.ID.String(), "repo", t.FullName, "user_id", t.UserID.String())
	return t, nil
}

func normalizeSubscriptions(in model.Subscriptions) (model.Subscriptions, error) {
	if len(in) == 0 {
		return nil, errors.New("at least one subscription is required")
	}
	seen := make(map[model.EventKind]struct{}, len(in))
	out := make(model.Subscriptions, 0, len(in))
	for _, sub := range in {
		if !sub.Kind.Valid() {
			return nil, fmt.Errorf("unknown event kind %q", sub.Kind)
		}
		if _, dup := seen[sub.Kind]; dup {
			return nil, fmt.Errorf("duplicate subscription %q", sub.Kind)
		}
		seen[sub.Kind] = struct{}{}
		sub.Param = strings.TrimSpace(sub.Param)
		out = append(out, sub)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*model.Tracker, error) {
	trackers, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return trackers, nil
}

// Get returns the tracker if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error) {
	t, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("tracker", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if t.UserID != userID {
		return nil, apperrors.NotFound("tracker", nil)
	}
	return t, nil
}

func (s *Service) Pause(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error) {
	return s.mutate(ctx, userID, id, func(t *model.Tracker) error {
		return s.repo.SetPaused(ctx, t.ID, true)
	})
}

func (s *Service) Resume(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error) {
	return s.mutate(ctx, userID, id, func(t *model.Tracker) error {
		return s.repo.SetPaused(ctx, t.ID, false)
	})
}

// Reactivate clears the error budget of a deactivated tracker.
func (s *Service) Reactivate(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error) {
	return s.mutate(ctx, userID, id, func(t *model.Tracker) error {
		return s.repo.Reactivate(ctx, t.ID)
	})
}

func (s *Service) mutate(ctx context.Context, userID, id uuid.UUID, fn func(*model.Tracker) error) (*model.Tracker, error) {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, apperrors.Internal(err)
	}
	return s.Get(ctx, userID, id)
}

// Delete removes the tracker, its event log and its cached baseline.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	t, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return apperrors.Internal(err)
	}
	s.snapshots.Clear(ctx, t.ResourceKey())
	s.log.Info("tracker deleted", "tracker_id", id.String(), "repo", t.FullName)
	return nil
}

func (s *Service) ListEvents(ctx context.Context, userID, id uuid.UUID, limit int) ([]*model.EventLogEntry, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.events.ListByTracker(ctx, id, limit)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return entries, nil
}
