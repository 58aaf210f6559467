// Package activity runs the periodic check of every active tracker:
// fetch, compare signatures, detect, deduplicate and enqueue notifications.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/repo-tracker/internal/detector"
	"github.com/jwalitptl/repo-tracker/internal/eventlog"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository"
	"github.com/jwalitptl/repo-tracker/internal/signature"
	"github.com/jwalitptl/repo-tracker/internal/snapshot"
	"github.com/jwalitptl/repo-tracker/internal/source"
	"github.com/jwalitptl/repo-tracker/pkg/lock"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
	"github.com/jwalitptl/repo-tracker/pkg/messaging"
	"github.com/jwalitptl/repo-tracker/pkg/metrics"
)

// ReportName is the job name reported in RunReport.
const ReportName = "check-trackers"

const errInterrupted = "interrupted"

type Config struct {
	JobName        string
	BatchSize      int
	BatchDelay     time.Duration
	Lookback       time.Duration
	SnapshotTTL    time.Duration
	LockTTL        time.Duration
	ErrorThreshold int
}

func DefaultConfig() Config {
	return Config{
		JobName:        "check-trackers-job",
		BatchSize:      5,
		BatchDelay:     2 * time.Second,
		Lookback:       detector.DefaultLookback,
		SnapshotTTL:    snapshot.DefaultTTL,
		LockTTL:        5 * time.Minute,
		ErrorThreshold: model.DefaultErrorLimit,
	}
}

// Dependencies are the collaborators of Service. Metrics and Logger are optional.
type Dependencies struct {
	Trackers  repository.TrackerRepository
	Events    *eventlog.Log
	Snapshots snapshot.Store
	Source    source.Source
	Locker    lock.Locker
	Queue     messaging.Queue[model.NotificationJob]
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

type Service struct {
	trackers  repository.TrackerRepository
	events    *eventlog.Log
	snapshots snapshot.Store
	source    source.Source
	locker    lock.Locker
	queue     messaging.Queue[model.NotificationJob]
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.JobName == "" {
		cfg.JobName = def.JobName
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = def.Lookback
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = def.SnapshotTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &Service{
		trackers:  deps.Trackers,
		events:    deps.Events,
		snapshots: deps.Snapshots,
		source:    deps.Source,
		locker:    deps.Locker,
		queue:     deps.Queue,
		cfg:       cfg,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		now:       time.Now,
	}
}

// CheckTrackers runs one guarded pass over all active trackers. Lock
// contention yields a skipped report, not an error. Only failing to load
// the tracker list is returned as an error; per-tracker failures are
// recorded on the tracker and in the report.
func (s *Service) CheckTrackers(ctx context.Context) (*model.RunReport, error) {
	started := s.now()
	report := &model.RunReport{Job: ReportName, StartedAt: started.UTC(), Results: []model.TrackerResult{}}

	lease, ok := s.locker.Acquire(ctx, s.cfg.JobName, s.cfg.LockTTL)
	if !ok {
		s.log.Info("check-trackers already running, skipping", "lock", s.cfg.JobName)
		s.metrics.JobRuns.WithLabelValues(ReportName, "skipped").Inc()
		report.Skipped = true
		report.DurationMS = s.now().Sub(started).Milliseconds()
		return report, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lease); err != nil {
			s.log.Warn("failed to release lock", "lock", lease.Name, "error", err.Error())
		}
	}()

	timer := prometheus.NewTimer(s.metrics.JobDuration.WithLabelValues(ReportName))
	defer timer.ObserveDuration()

	trackers, err := s.trackers.ListActive(ctx)
	if err != nil {
		s.metrics.JobRuns.WithLabelValues(ReportName, "failed").Inc()
		return nil, fmt.Errorf("failed to list active trackers: %w", err)
	}

	s.log.Info("checking trackers", "count", len(trackers), "batch_size", s.cfg.BatchSize)

	for start := 0; start < len(trackers); start += s.cfg.BatchSize {
		if start > 0 && !s.pause(ctx) {
			report.Interrupted = true
			break
		}
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		end := min(start+s.cfg.BatchSize, len(trackers))
		report.Results = append(report.Results, s.runBatch(ctx, trackers[start:end])...)
	}

	for _, r := range report.Results {
		switch {
		case r.Skipped:
			report.SkippedTrackers++
		case r.Error == errInterrupted:
			report.Interrupted = true
		case r.Error != "":
			report.Processed++
			report.Errored++
		default:
			report.Processed++
			report.Succeeded++
			report.TotalEvents += r.Events
		}
	}
	report.DurationMS = s.now().Sub(started).Milliseconds()

	outcome := "completed"
	if report.Interrupted {
		outcome = "interrupted"
	}
	s.metrics.JobRuns.WithLabelValues(ReportName, outcome).Inc()
	s.log.Info("check-trackers finished",
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"errored", report.Errored,
		"events", report.TotalEvents,
		"interrupted", report.Interrupted,
		"duration_ms", report.DurationMS)

	return report, nil
}

// pause waits out the inter-batch delay. It returns false if ctx ends first.
func (s *Service) pause(ctx context.Context) bool {
	if s.cfg.BatchDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.BatchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runBatch processes every tracker in batch concurrently and waits for all
// of them. Results keep the batch order.
func (s *Service) runBatch(ctx context.Context, batch []*model.Tracker) []model.TrackerResult {
	results := make([]model.TrackerResult, len(batch))
	var g errgroup.Group
	g.SetLimit(len(batch))
	for i, t := range batch {
		g.Go(func() error {
			results[i] = s.processTracker(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) processTracker(ctx context.Context, t *model.Tracker) (res model.TrackerResult) {
	res = model.TrackerResult{TrackerID: t.ID, Repo: t.FullName}
	if !t.IsActive || t.IsPaused {
		res.Skipped = true
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res.Events = 0
			res.Error = s.recordFailure(ctx, t, fmt.Errorf("panic: %v", p))
		}
	}()

	n, err := s.checkTracker(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			res.Error = errInterrupted
			return res
		}
		res.Error = s.recordFailure(ctx, t, err)
		return res
	}

	s.metrics.TrackersProcessed.WithLabelValues("succeeded").Inc()
	res.Events = n
	return res
}

// recordFailure counts err against the tracker's error budget and returns
// the message stored in the report.
func (s *Service) recordFailure(ctx context.Context, t *model.Tracker, err error) string {
	msg := err.Error()
	s.metrics.TrackersProcessed.WithLabelValues("errored").Inc()

	log := s.log.WithFields(map[string]interface{}{"tracker_id": t.ID.String(), "repo": t.FullName})
	log.Error(err, "tracker check failed")

	count, active, rerr := s.trackers.RecordFailure(ctx, t.ID, msg, s.cfg.ErrorThreshold)
	if rerr != nil {
		log.Error(rerr, "failed to record tracker failure")
		return msg
	}
	if !active {
		s.metrics.TrackersDisabled.Inc()
		log.Warn("tracker deactivated after repeated failures", "error_count", count)
	}
	return msg
}

// checkTracker handles one tracker and returns the number of new events.
func (s *Service) checkTracker(ctx context.Context, t *model.Tracker) (int, error) {
	key := t.ResourceKey()
	now := s.now().UTC()

	snap, err := s.source.FetchSnapshot(ctx, t.Owner, t.Name)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return 0, fmt.Errorf("repository %s not found or no longer accessible: %w", t.FullName, err)
		}
		return 0, fmt.Errorf("failed to fetch %s: %w", t.FullName, err)
	}

	sig, err := signature.Compute(snap)
	if err != nil {
		return 0, fmt.Errorf("failed to compute signature: %w", err)
	}

	if sig == t.Signature() {
		if err := s.trackers.MarkChecked(ctx, t.ID, now); err != nil {
			return 0, fmt.Errorf("failed to mark tracker checked: %w", err)
		}
		s.snapshots.Set(ctx, key, snap, s.cfg.SnapshotTTL)
		return 0, nil
	}

	prev := s.snapshots.Get(ctx, key)
	det := detector.New(t.Subscriptions, prev,
		detector.WithLookback(s.cfg.Lookback),
		detector.WithClock(s.now))
	candidates := det.Detect(snap)

	recorded, err := s.events.RecordNew(ctx, t.ID, candidates)
	if err != nil {
		return 0, fmt.Errorf("failed to record events: %w", err)
	}

	if len(recorded) > 0 {
		for _, r := range recorded {
			s.metrics.EventsDetected.WithLabelValues(string(r.Event.Kind)).Inc()
		}
		s.enqueue(ctx, t, recorded, now)
	}

	if err := s.trackers.UpdateSignature(ctx, t.ID, sig, now); err != nil {
		return 0, fmt.Errorf("failed to update signature: %w", err)
	}
	s.snapshots.Set(ctx, key, snap, s.cfg.SnapshotTTL)

	if prev == nil {
		s.log.Debug("baseline established", "tracker_id", t.ID.String(), "repo", t.FullName)
	}
	return len(recorded), nil
}

// enqueue batches all new events of one tracker into a single job. A queue
// failure is logged and does not fail the tracker: the events stay in the
// log with notification_sent = false.
func (s *Service) enqueue(ctx context.Context, t *model.Tracker, recorded []eventlog.Recorded, now time.Time) {
	job := model.NotificationJob{
		ID:              uuid.New(),
		TrackerID:       t.ID,
		UserID:          t.UserID,
		Email:           t.NotifyEmail,
		RepoName:        t.FullName,
		Events:          make([]model.DetectedEvent, 0, len(recorded)),
		EventSignatures: make([]string, 0, len(recorded)),
		CreatedAt:       now,
	}
	for _, r := range recorded {
		job.Events = append(job.Events, r.Event)
		job.EventSignatures = append(job.EventSignatures, r.Signature)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Error(err, "failed to enqueue notification",
			"job", job.ID.String(),
			"tracker_id", t.ID.String(),
			"recipient", t.NotifyEmail,
			"events", len(job.Events))
	}
}
