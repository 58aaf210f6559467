// Package app wires configuration into the services shared by the API
// server, the self-scheduling worker and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/repo-tracker/internal/config"
	"github.com/jwalitptl/repo-tracker/internal/eventlog"
	"github.com/jwalitptl/repo-tracker/internal/handler/health"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/notify"
	"github.com/jwalitptl/repo-tracker/internal/repository/postgres"
	"github.com/jwalitptl/repo-tracker/internal/service/activity"
	"github.com/jwalitptl/repo-tracker/internal/service/notification"
	"github.com/jwalitptl/repo-tracker/internal/service/tracker"
	"github.com/jwalitptl/repo-tracker/internal/snapshot"
	"github.com/jwalitptl/repo-tracker/internal/source/github"
	"github.com/jwalitptl/repo-tracker/pkg/lock"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
	"github.com/jwalitptl/repo-tracker/pkg/messaging/redis"
	"github.com/jwalitptl/repo-tracker/pkg/metrics"
)

const metricsNamespace = "repo_tracker"

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	DB       *sqlx.DB
	Redis    *goredis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Queue    *redis.Queue[model.NotificationJob]

	Activity     *activity.Service
	Notification *notification.Service
	Trackers     *tracker.Service
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
		Output:     os.Stdout,
		JSON:       cfg.JSON,
	})
}

// New connects to Postgres and Redis and builds every service. Close releases
// the connections.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb, err := redis.NewClient(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg, metricsNamespace)

	src, err := github.NewClient(
		github.WithToken(cfg.GitHub.Token),
		github.WithBaseURL(cfg.GitHub.BaseURL),
		github.WithHTTPClient(&http.Client{Timeout: cfg.GitHub.Timeout}),
		github.WithLimiter(github.NewLimiter(cfg.GitHub.RequestsPerSecond, cfg.GitHub.Burst)),
		github.WithLogger(log),
		github.WithMetrics(m),
		github.WithPerPage(cfg.GitHub.PerPage),
		github.WithMaxBranches(cfg.GitHub.MaxBranches),
	)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, err
	}

	base := postgres.NewBaseRepository(db)
	trackerRepo := postgres.NewTrackerRepository(base)
	eventRepo := postgres.NewEventLogRepository(base)
	events := eventlog.New(eventRepo)

	snapshots := snapshot.NewRedisStore(rdb, cfg.Redis.KeyPrefix+"snapshot:", log)
	locker := lock.NewRedisLocker(rdb, cfg.Redis.KeyPrefix, log)
	queue := redis.NewQueue[model.NotificationJob](rdb, cfg.Redis.QueueKey, cfg.Redis.DeadLetter)

	var sender notify.Sender = notify.NewLogSender(log)
	if cfg.SMTP.Enabled {
		sender = notify.NewSMTPSender(cfg.SMTP)
	}

	return &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Redis:    rdb,
		Registry: reg,
		Metrics:  m,
		Queue:    queue,
		Activity: activity.NewService(activity.Dependencies{
			Trackers:  trackerRepo,
			Events:    events,
			Snapshots: snapshots,
			Source:    src,
			Locker:    locker,
			Queue:     queue,
			Logger:    log,
			Metrics:   m,
		}, ActivityConfig(cfg.Tracker)),
		Notification: notification.NewService(queue, sender, events, locker, NotificationConfig(cfg.Notification), log, m),
		Trackers:     tracker.NewService(trackerRepo, eventRepo, src, snapshots, log),
	}, nil
}

func ActivityConfig(c config.TrackerConfig) activity.Config {
	return activity.Config{
		JobName:        c.JobName,
		BatchSize:      c.BatchSize,
		BatchDelay:     c.BatchDelay,
		Lookback:       c.Lookback,
		SnapshotTTL:    c.SnapshotTTL,
		LockTTL:        c.LockTTL,
		ErrorThreshold: c.ErrorThreshold,
	}
}

func NotificationConfig(c config.NotificationConfig) notification.Config {
	return notification.Config{
		JobName:       c.JobName,
		InterJobDelay: c.InterJobDelay,
		MaxJobs:       c.MaxJobs,
		MaxAttempts:   c.MaxAttempts,
		LockTTL:       c.LockTTL,
	}
}

// HealthChecks returns the readiness probes for the shared stores.
func (a *App) HealthChecks() []health.Check {
	return []health.Check{
		{Name: "postgres", Ping: a.DB.PingContext},
		{Name: "redis", Ping: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }},
	}
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Log.Error(err, "Failed to close Redis client")
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Error(err, "Failed to close database")
	}
}
