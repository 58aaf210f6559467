package cron

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/pkg/auth"
)

const secret = "s3cret"

type fakeJobs struct {
	checks, drains int
	report         *model.RunReport
	drain          *model.DrainReport
	err            error
}

func (f *fakeJobs) CheckTrackers(context.Context) (*model.RunReport, error) {
	f.checks++
	return f.report, f.err
}

func (f *fakeJobs) SendPending(context.Context) (*model.DrainReport, error) {
	f.drains++
	return f.drain, f.err
}

func router(jobs *fakeJobs) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(jobs, jobs).RegisterRoutes(&r.RouterGroup, middleware.NewAuthMiddleware(auth.NewJWTService(""), secret).CronAuth())
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUnauthorizedHasNoSideEffects(t *testing.T) {
	jobs := &fakeJobs{}
	r := router(jobs)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/cron/check-trackers", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/cron/send-email", "wrong").Code)
	assert.Zero(t, jobs.checks)
	assert.Zero(t, jobs.drains)
}

func TestCheckTrackersReport(t *testing.T) {
	jobs := &fakeJobs{report: &model.RunReport{Job: "check-trackers", Processed: 5, Succeeded: 4, Errored: 1, TotalEvents: 3}}
	w := get(router(jobs), "/cron/check-trackers", secret)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "check-trackers", body["job"])
	assert.Equal(t, float64(5), body["processed"])
	assert.Equal(t, float64(1), body["errored"])
	assert.Equal(t, false, body["skipped"])
}

func TestSkippedRunIsOK(t *testing.T) {
	jobs := &fakeJobs{drain: &model.DrainReport{Job: "send-email", Skipped: true}}
	w := get(router(jobs), "/cron/send-email", secret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"skipped":true`)
}

func TestJobErrorIs500(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("database down")}
	w := get(router(jobs), "/cron/check-trackers", secret)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database down")
}
