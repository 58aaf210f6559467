// Package memory provides in-process repositories for tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
)

// Store holds trackers and their event log. Deleting a tracker drops its events.
type Store struct {
	mu       sync.RWMutex
	trackers map[uuid.UUID]*model.Tracker
	events   map[uuid.UUID][]*model.EventLogEntry

	// FailOn, when set, is consulted before tracker reads and writes and
	// before every event insert. It lets tests inject storage errors.
	FailOn func(op string, id uuid.UUID) error
}

func NewStore() *Store {
	return &Store{
		trackers: make(map[uuid.UUID]*model.Tracker),
		events:   make(map[uuid.UUID][]*model.EventLogEntry),
	}
}

// Trackers returns the store as a TrackerRepository.
func (s *Store) Trackers() repository.TrackerRepository { return (*trackerRepo)(s) }

// Events returns the store as an EventLogRepository.
func (s *Store) Events() repository.EventLogRepository { return (*eventRepo)(s) }

func (s *Store) fail(op string, id uuid.UUID) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op, id)
}

func cloneTracker(t *model.Tracker) *model.Tracker {
	c := *t
	c.Subscriptions = append(model.Subscriptions(nil), t.Subscriptions...)
	if t.LastActivitySignature != nil {
		sig := *t.LastActivitySignature
		c.LastActivitySignature = &sig
	}
	if t.LastCheckedAt != nil {
		at := *t.LastCheckedAt
		c.LastCheckedAt = &at
	}
	if t.LastError != nil {
		msg := *t.LastError
		c.LastError = &msg
	}
	return &c
}

type trackerRepo Store

func (r *trackerRepo) Create(_ context.Context, tracker *model.Tracker) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.trackers {
		if existing.UserID == tracker.UserID &&
			strings.EqualFold(existing.Owner, tracker.Owner) &&
			strings.EqualFold(existing.Name, tracker.Name) {
			return repository.ErrDuplicate
		}
	}
	if tracker.ID == uuid.Nil {
		tracker.ID = uuid.New()
	}
	now := time.Now().UTC()
	tracker.CreatedAt = now
	tracker.UpdatedAt = now
	s.trackers[tracker.ID] = cloneTracker(tracker)
	return nil
}

func (r *trackerRepo) Get(_ context.Context, id uuid.UUID) (*model.Tracker, error) {
	s := (*Store)(r)
	if err := s.fail("get", id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trackers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneTracker(t), nil
}

func (r *trackerRepo) list(match func(*model.Tracker) bool) []*model.Tracker {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*model.Tracker{}
	for _, t := range s.trackers {
		if match(t) {
			out = append(out, cloneTracker(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *trackerRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Tracker, error) {
	return r.list(func(t *model.Tracker) bool { return t.UserID == userID }), nil
}

func (r *trackerRepo) ListActive(_ context.Context) ([]*model.Tracker, error) {
	if err := (*Store)(r).fail("list_active", uuid.Nil); err != nil {
		return nil, err
	}
	return r.list(func(t *model.Tracker) bool { return t.IsActive && !t.IsPaused }), nil
}

func (r *trackerRepo) FindByUserRepo(_ context.Context, userID uuid.UUID, owner, name string) (*model.Tracker, error) {
	found := r.list(func(t *model.Tracker) bool {
		return t.UserID == userID && strings.EqualFold(t.Owner, owner) && strings.EqualFold(t.Name, name)
	})
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	return found[0], nil
}

func (r *trackerRepo) Delete(_ context.Context, id uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trackers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.trackers, id)
	delete(s.events, id)
	return nil
}

func (r *trackerRepo) update(op string, id uuid.UUID, fn func(*model.Tracker)) error {
	s := (*Store)(r)
	if err := s.fail(op, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trackers[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *trackerRepo) MarkChecked(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update("mark_checked", id, func(t *model.Tracker) {
		t.LastCheckedAt = &at
		t.ErrorCount = 0
		t.LastError = nil
	})
}

func (r *trackerRepo) UpdateSignature(_ context.Context, id uuid.UUID, signature string, at time.Time) error {
	return r.update("update_signature", id, func(t *model.Tracker) {
		t.LastActivitySignature = &signature
		t.LastCheckedAt = &at
		t.ErrorCount = 0
		t.LastError = nil
	})
}

func (r *trackerRepo) RecordFailure(_ context.Context, id uuid.UUID, message string, threshold int) (int, bool, error) {
	var count int
	var active bool
	err := r.update("record_failure", id, func(t *model.Tracker) {
		now := time.Now().UTC()
		t.ErrorCount++
		t.LastError = &message
		t.LastCheckedAt = &now
		if t.ErrorCount >= threshold {
			t.IsActive = false
		}
		count, active = t.ErrorCount, t.IsActive
	})
	return count, active, err
}

func (r *trackerRepo) SetPaused(_ context.Context, id uuid.UUID, paused bool) error {
	return r.update("set_paused", id, func(t *model.Tracker) { t.IsPaused = paused })
}

func (r *trackerRepo) Reactivate(_ context.Context, id uuid.UUID) error {
	return r.update("reactivate", id, func(t *model.Tracker) {
		t.IsActive = true
		t.ErrorCount = 0
		t.LastError = nil
	})
}

type eventRepo Store

func (r *eventRepo) Exists(_ context.Context, trackerID uuid.UUID, signature string) (bool, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events[trackerID] {
		if e.EventSignature == signature {
			return true, nil
		}
	}
	return false, nil
}

func (r *eventRepo) Record(ctx context.Context, entry *model.EventLogEntry) (bool, error) {
	inserted, err := r.RecordBatch(ctx, []*model.EventLogEntry{entry})
	if err != nil {
		return false, err
	}
	return inserted[0], nil
}

// RecordBatch stages every entry and applies them only when all succeed.
func (r *eventRepo) RecordBatch(_ context.Context, entries []*model.EventLogEntry) ([]bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]bool, len(entries))
	staged := make([]*model.EventLogEntry, 0, len(entries))
	for i, entry := range entries {
		if err := s.fail("record_event", entry.TrackerID); err != nil {
			return nil, err
		}
		if s.hasEvent(entry.TrackerID, entry.EventSignature, staged) {
			continue
		}
		c := *entry
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.DetectedAt.IsZero() {
			c.DetectedAt = time.Now().UTC()
		}
		staged = append(staged, &c)
		inserted[i] = true
	}

	for _, c := range staged {
		s.events[c.TrackerID] = append(s.events[c.TrackerID], c)
	}
	for i, entry := range entries {
		if inserted[i] {
			entry.ID, entry.DetectedAt = staged[0].ID, staged[0].DetectedAt
			staged = staged[1:]
		}
	}
	return inserted, nil
}

func (s *Store) hasEvent(trackerID uuid.UUID, signature string, staged []*model.EventLogEntry) bool {
	for _, e := range s.events[trackerID] {
		if e.EventSignature == signature {
			return true
		}
	}
	for _, e := range staged {
		if e.TrackerID == trackerID && e.EventSignature == signature {
			return true
		}
	}
	return false
}

func (r *eventRepo) MarkNotified(_ context.Context, trackerID uuid.UUID, signatures []string, at time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		want[sig] = struct{}{}
	}
	var n int64
	for _, e := range s.events[trackerID] {
		if _, ok := want[e.EventSignature]; ok && !e.NotificationSent {
			e.NotificationSent = true
			notifiedAt := at
			e.NotifiedAt = &notifiedAt
			n++
		}
	}
	return n, nil
}

func (r *eventRepo) ListByTracker(_ context.Context, trackerID uuid.UUID, limit int) ([]*model.EventLogEntry, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.events[trackerID]
	out := make([]*model.EventLogEntry, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		c := *src[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
