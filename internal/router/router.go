package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	cronHandler "github.com/jwalitptl/repo-tracker/internal/handler/cron"
	healthHandler "github.com/jwalitptl/repo-tracker/internal/handler/health"
	promHandler "github.com/jwalitptl/repo-tracker/internal/handler/prometheus"
	trackerHandler "github.com/jwalitptl/repo-tracker/internal/handler/tracker"
	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

type RouterConfig struct {
	RateLimit   rate.Limit
	RateBurst   int
	MaxBodySize int64
}

type Handlers struct {
	Cron    *cronHandler.Handler
	Tracker *trackerHandler.Handler
	Health  *healthHandler.Handler
	Metrics *promHandler.Handler
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, log *logger.Logger, config RouterConfig) *Router {
	engine := gin.New()

	core := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
	}
	if handlers.Metrics != nil {
		core = append(core, handlers.Metrics.Middleware())
	}
	engine.Use(core...)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit(), middleware.SizeLimit(config.MaxBodySize))

	return &Router{engine: engine, auth: auth, handlers: handlers}
}

func (r *Router) Setup() *gin.Engine {
	root := &r.engine.RouterGroup

	r.handlers.Health.RegisterRoutes(root)
	if r.handlers.Metrics != nil {
		r.engine.GET("/metrics", r.handlers.Metrics.Handler())
	}

	r.handlers.Cron.RegisterRoutes(root, r.auth.CronAuth())

	api := r.engine.Group("/api/v1", r.auth.Authenticate())
	r.handlers.Tracker.RegisterRoutes(api)

	return r.engine
}
