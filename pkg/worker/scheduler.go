// Package worker runs periodic jobs in-process. It is the self-hosted
// alternative to an external cron hitting the job endpoints.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run is bounded only by
	// the scheduler's context.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Config struct {
	// RunOnStart fires every job once before the first tick.
	RunOnStart bool
}

type Scheduler struct {
	jobs   []Job
	config Config
	logger *logger.Logger
}

func NewScheduler(config Config, log *logger.Logger, jobs ...Job) (*Scheduler, error) {
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, fmt.Errorf("job %q: name and run func are required", j.Name)
		}
		if j.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be greater than 0", j.Name)
		}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{jobs: jobs, config: config, logger: log}, nil
}

// Start blocks until ctx is cancelled and every in-flight run has returned.
func (s *Scheduler) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	s.logger.Info("Starting job loop", "job", j.Name, "interval", j.Interval.String())
	if s.config.RunOnStart {
		s.runOnce(ctx, j)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down job loop", "job", j.Name)
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "Job panicked", "job", j.Name)
		}
	}()
	if err := j.Run(ctx); err != nil {
		s.logger.Error(err, "Job run failed", "job", j.Name)
	}
}
