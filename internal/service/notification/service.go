// Package notification drains the notification queue and hands each job
// to the delivery collaborator.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/repo-tracker/internal/eventlog"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/notify"
	"github.com/jwalitptl/repo-tracker/pkg/lock"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
	"github.com/jwalitptl/repo-tracker/pkg/messaging"
	"github.com/jwalitptl/repo-tracker/pkg/metrics"
)

// ReportName is the job name reported in DrainReport.
const ReportName = "send-email"

type Config struct {
	JobName       string
	InterJobDelay time.Duration
	// MaxJobs caps one drain; 0 means the queue length seen at start.
	MaxJobs int
	// MaxAttempts moves a job to the dead-letter list once reached; 0 keeps
	// requeueing forever.
	MaxAttempts int
	LockTTL     time.Duration
}

func DefaultConfig() Config {
	return Config{
		JobName:       "send-email-job",
		InterJobDelay: 100 * time.Millisecond,
		MaxJobs:       100,
		MaxAttempts:   0,
		LockTTL:       5 * time.Minute,
	}
}

type Service struct {
	queue   messaging.Queue[model.NotificationJob]
	sender  notify.Sender
	events  *eventlog.Log
	locker  lock.Locker
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	queue messaging.Queue[model.NotificationJob],
	sender notify.Sender,
	events *eventlog.Log,
	locker lock.Locker,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.JobName == "" {
		cfg.JobName = DefaultConfig().JobName
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		queue:   queue,
		sender:  sender,
		events:  events,
		locker:  locker,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// SendPending delivers queued jobs one at a time. A failed job goes back to
// the tail of the queue and is not retried within the same drain.
func (s *Service) SendPending(ctx context.Context) (*model.DrainReport, error) {
	started := s.now()
	report := &model.DrainReport{Job: ReportName, StartedAt: started.UTC(), Results: []model.DeliveryResult{}}

	lease, ok := s.locker.Acquire(ctx, s.cfg.JobName, s.cfg.LockTTL)
	if !ok {
		s.log.Info("send-email already running, skipping", "lock", s.cfg.JobName)
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

	pending, err := s.queue.Len(ctx)
	if err != nil {
		s.metrics.JobRuns.WithLabelValues(ReportName, "failed").Inc()
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	limit := int(pending)
	if s.cfg.MaxJobs > 0 && limit > s.cfg.MaxJobs {
		limit = s.cfg.MaxJobs
	}

	for i := 0; i < limit; i++ {
		if i > 0 && !s.pause(ctx) {
			break
		}
		job, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			s.log.Error(err, "failed to dequeue notification")
			report.Failed++
			continue
		}
		if !ok {
			break
		}
		report.Processed++
		report.Results = append(report.Results, s.deliver(ctx, &job, report))
	}

	if remaining, err := s.queue.Len(ctx); err == nil {
		report.Remaining = int(remaining)
		s.metrics.QueueLength.Set(float64(remaining))
	}
	report.DurationMS = s.now().Sub(started).Milliseconds()
	s.metrics.JobRuns.WithLabelValues(ReportName, "completed").Inc()
	s.log.Info("send-email finished",
		"processed", report.Processed,
		"sent", report.Sent,
		"failed", report.Failed,
		"dead_lettered", report.DeadLettered,
		"remaining", report.Remaining)

	return report, nil
}

func (s *Service) deliver(ctx context.Context, job *model.NotificationJob, report *model.DrainReport) model.DeliveryResult {
	res := model.DeliveryResult{
		JobID:     job.ID,
		TrackerID: job.TrackerID,
		Recipient: job.Email,
		Events:    len(job.Events),
	}

	if err := s.sender.Send(ctx, job); err != nil {
		report.Failed++
		s.metrics.NotificationsFailed.Inc()
		res.Error = err.Error()
		s.handleFailure(ctx, job, err, report)
		return res
	}

	report.Sent++
	s.metrics.NotificationsSent.Inc()
	res.Sent = true

	if s.events != nil && len(job.EventSignatures) > 0 {
		if _, err := s.events.MarkNotified(ctx, job.TrackerID, job.EventSignatures); err != nil {
			s.log.Error(err, "failed to mark events notified",
				"job", job.ID.String(),
				"tracker_id", job.TrackerID.String())
		}
	}
	return res
}

func (s *Service) handleFailure(ctx context.Context, job *model.NotificationJob, sendErr error, report *model.DrainReport) {
	job.Attempts++
	job.LastError = sendErr.Error()
	log := s.log.WithFields(map[string]interface{}{
		"job":       job.ID.String(),
		"recipient": job.Email,
		"attempts":  job.Attempts,
	})
	log.Error(sendErr, "notification delivery failed")

	if s.cfg.MaxAttempts > 0 && job.Attempts >= s.cfg.MaxAttempts {
		if err := s.queue.DeadLetter(ctx, *job); err != nil {
			log.Error(err, "failed to dead-letter notification, job dropped")
			return
		}
		report.DeadLettered++
		s.metrics.NotificationsDeadLettered.Inc()
		log.Warn("notification moved to dead-letter list")
		return
	}
	if err := s.queue.Enqueue(ctx, *job); err != nil {
		log.Error(err, "failed to requeue notification, job dropped")
	}
}

func (s *Service) pause(ctx context.Context) bool {
	if s.cfg.InterJobDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.cfg.InterJobDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
