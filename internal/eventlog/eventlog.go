// Package eventlog filters detector output down to events that have not been
// recorded before for a tracker and persists them.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
	"github.com/jwalitptl/repo-tracker/internal/signature"
)

// Recorded is a newly persisted event with its dedup signature.
type Recorded struct {
	Event     model.DetectedEvent
	Signature string
}

type Log struct {
	repo repository.EventLogRepository
	now  func() time.Time
}

func New(repo repository.EventLogRepository) *Log {
	return &Log{repo: repo, now: time.Now}
}

// Signature returns the dedup signature of e.
func (l *Log) Signature(e model.DetectedEvent) (string, error) {
	return signature.Event(e)
}

func (l *Log) Exists(ctx context.Context, trackerID uuid.UUID, sig string) (bool, error) {
	return l.repo.Exists(ctx, trackerID, sig)
}

// Record persists e under sig. It reports false when another writer
// recorded the same signature first.
func (l *Log) Record(ctx context.Context, trackerID uuid.UUID, e model.DetectedEvent, sig string) (bool, error) {
	entry, err := l.entry(trackerID, e, sig)
	if err != nil {
		return false, err
	}
	return l.repo.Record(ctx, entry)
}

// RecordNew records every candidate in one atomic write and returns only
// the ones that were not seen before. Candidates sharing a signature within
// the same call are collapsed. On error nothing is recorded, so the same
// candidates are offered again on the next check.
func (l *Log) RecordNew(ctx context.Context, trackerID uuid.UUID, candidates []model.DetectedEvent) ([]Recorded, error) {
	pending := make([]Recorded, 0, len(candidates))
	entries := make([]*model.EventLogEntry, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, e := range candidates {
		sig, err := l.Signature(e)
		if err != nil {
			return nil, fmt.Errorf("failed to sign %s event: %w", e.Kind, err)
		}
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}

		entry, err := l.entry(trackerID, e, sig)
		if err != nil {
			return nil, err
		}
		pending = append(pending, Recorded{Event: e, Signature: sig})
		entries = append(entries, entry)
	}

	out := make([]Recorded, 0, len(pending))
	if len(entries) == 0 {
		return out, nil
	}
	inserted, err := l.repo.RecordBatch(ctx, entries)
	if err != nil {
		return nil, err
	}
	for i, ok := range inserted {
		if ok {
			out = append(out, pending[i])
		}
	}
	return out, nil
}

func (l *Log) entry(trackerID uuid.UUID, e model.DetectedEvent, sig string) (*model.EventLogEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return &model.EventLogEntry{
		TrackerID:      trackerID,
		EventKind:      e.Kind,
		Payload:        payload,
		EventSignature: sig,
		DetectedAt:     l.now().UTC(),
	}, nil
}

// MarkNotified flags the given signatures as delivered.
func (l *Log) MarkNotified(ctx context.Context, trackerID uuid.UUID, signatures []string) (int64, error) {
	return l.repo.MarkNotified(ctx, trackerID, signatures, l.now().UTC())
}
