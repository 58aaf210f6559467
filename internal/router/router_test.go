package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	cronHandler "github.com/jwalitptl/repo-tracker/internal/handler/cron"
	healthHandler "github.com/jwalitptl/repo-tracker/internal/handler/health"
	promHandler "github.com/jwalitptl/repo-tracker/internal/handler/prometheus"
	trackerHandler "github.com/jwalitptl/repo-tracker/internal/handler/tracker"
	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/pkg/auth"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

type jobs struct{}

func (jobs) CheckTrackers(context.Context) (*model.RunReport, error) {
	return &model.RunReport{Job: "check-trackers"}, nil
}

func (jobs) SendPending(context.Context) (*model.DrainReport, error) {
	return &model.DrainReport{Job: "send-email"}, nil
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewRouter(
		middleware.NewAuthMiddleware(auth.NewJWTService("jwt"), "cron"),
		Handlers{
			Cron:    cronHandler.NewHandler(jobs{}, jobs{}),
			Tracker: trackerHandler.NewHandler(nil),
			Health:  healthHandler.NewHandler(),
			Metrics: promHandler.New(prometheus.NewRegistry()),
		},
		logger.Nop(),
		RouterConfig{RateLimit: 100, RateBurst: 100},
	).Setup()

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/health/live", "", http.StatusOK},
		{"/health/ready", "", http.StatusOK},
		{"/metrics", "", http.StatusOK},
		{"/cron/check-trackers", "", http.StatusUnauthorized},
		{"/cron/check-trackers", "cron", http.StatusOK},
		{"/cron/send-email", "cron", http.StatusOK},
		{"/api/v1/trackers", "", http.StatusUnauthorized},
		{"/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set(middleware.HeaderCronSecret, tc.header)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, tc.path)
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID), tc.path)
	}
}
