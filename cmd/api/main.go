package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/repo-tracker/internal/app"
	"github.com/jwalitptl/repo-tracker/internal/config"
	cronHandler "github.com/jwalitptl/repo-tracker/internal/handler/cron"
	healthHandler "github.com/jwalitptl/repo-tracker/internal/handler/health"
	promHandler "github.com/jwalitptl/repo-tracker/internal/handler/prometheus"
	trackerHandler "github.com/jwalitptl/repo-tracker/internal/handler/tracker"
	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/internal/router"
	"github.com/jwalitptl/repo-tracker/pkg/auth"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.Log)

	if cfg.Auth.CronSecret == "" {
		logger.Warn("CRON_SECRET is not set; job endpoints will reject every request")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set; tracker endpoints will reject every request")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	engine := router.NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Auth.JWTSecret), cfg.Auth.CronSecret),
		router.Handlers{
			Cron:    cronHandler.NewHandler(a.Activity, a.Notification),
			Tracker: trackerHandler.NewHandler(a.Trackers),
			Health:  healthHandler.NewHandler(a.HealthChecks()...),
			Metrics: promHandler.New(a.Registry),
		},
		logger,
		router.RouterConfig{
			RateLimit:   rate.Limit(cfg.Server.RequestsPerSecond),
			RateBurst:   cfg.Server.Burst,
			MaxBodySize: middleware.DefaultMaxBodySize,
		},
	).Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "failed to start server")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
		return
	}

	logger.Info("server exited properly")
}
