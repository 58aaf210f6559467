package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/repo-tracker/internal/app"
	"github.com/jwalitptl/repo-tracker/internal/config"
	"github.com/jwalitptl/repo-tracker/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(a *app.App) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range a.HealthChecks() {
			if err := check.Ping(r.Context()); err != nil {
				http.Error(w, check.Name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	health := setupHealthCheck(a)

	scheduler, err := worker.NewScheduler(worker.Config{RunOnStart: true}, logger,
		worker.Job{
			Name:     cfg.Tracker.JobName,
			Interval: cfg.Tracker.PollInterval,
			// a run never outlives its lock
			Timeout: cfg.Tracker.LockTTL,
			Run: func(ctx context.Context) error {
				report, err := a.Activity.CheckTrackers(ctx)
				if err == nil {
					logger.Info("Check run finished", "skipped", report.Skipped,
						"processed", report.Processed, "errored", report.Errored, "events", report.TotalEvents)
				}
				return err
			},
		},
		worker.Job{
			Name:     cfg.Notification.JobName,
			Interval: cfg.Notification.PollInterval,
			Timeout:  cfg.Notification.LockTTL,
			Run: func(ctx context.Context) error {
				report, err := a.Notification.SendPending(ctx)
				if err == nil && report.Processed > 0 {
					logger.Info("Drain finished", "sent", report.Sent, "failed", report.Failed, "remaining", report.Remaining)
				}
				return err
			},
		},
	)
	if err != nil {
		logger.Fatal(err, "Failed to create scheduler")
	}

	scheduler.Start(ctx)
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)
}
