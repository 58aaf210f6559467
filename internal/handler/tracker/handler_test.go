package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/internal/repository/memory"
	trackerService "github.com/jwalitptl/repo-tracker/internal/service/tracker"
	"github.com/jwalitptl/repo-tracker/internal/snapshot"
	"github.com/jwalitptl/repo-tracker/internal/source"
	"github.com/jwalitptl/repo-tracker/pkg/auth"
)

const jwtSecret = "test-secret"

type publicRepos struct{}

func (publicRepos) FetchSnapshot(context.Context, string, string) (*model.Snapshot, error) {
	return nil, source.ErrNotFound
}

func (publicRepos) VerifyResource(_ context.Context, owner, name string) (*source.ResourceStatus, error) {
	if name == "missing" {
		return &source.ResourceStatus{}, nil
	}
	return &source.ResourceStatus{Exists: true, FullName: owner + "/" + name}, nil
}

type env struct {
	router *gin.Engine
	store  *memory.Store
}

func setup() *env {
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	svc := trackerService.NewService(store.Trackers(), store.Events(), publicRepos{}, snapshot.NewMemoryStore(time.Minute), nil)

	r := gin.New()
	api := r.Group("/api/v1", middleware.NewAuthMiddleware(auth.NewJWTService(jwtSecret), "").Authenticate())
	NewHandler(svc).RegisterRoutes(api)
	return &env{router: r, store: store}
}

func token(t *testing.T, user uuid.UUID, email string) string {
	t.Helper()
	s, err := auth.NewJWTService(jwtSecret).GenerateAccessToken(user, email, time.Hour)
	require.NoError(t, err)
	return s
}

func (e *env) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

const createBody = `{"owner":"acme","name":"widgets","subscriptions":[{"kind":"new_release"},{"kind":"new_issue","param":"bug"}]}`

func TestTrackerLifecycle(t *testing.T) {
	e := setup()
	user := uuid.New()
	tok := token(t, user, "dev@example.com")

	w := e.do(t, http.MethodPost, "/api/v1/trackers", tok, createBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created model.Tracker
	decode(t, w, &created)
	assert.Equal(t, "acme/widgets", created.FullName)
	assert.Equal(t, "dev@example.com", created.NotifyEmail)
	assert.True(t, created.IsActive)

	w = e.do(t, http.MethodPost, "/api/v1/trackers", tok, createBody)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/v1/trackers", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Tracker
	decode(t, w, &list)
	require.Len(t, list, 1)

	path := "/api/v1/trackers/" + created.ID.String()
	w = e.do(t, http.MethodPost, path+"/pause", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var paused model.Tracker
	decode(t, w, &paused)
	assert.True(t, paused.IsPaused)

	w = e.do(t, http.MethodGet, path+"/events?limit=10", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())

	w = e.do(t, http.MethodDelete, path, tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodGet, path, tok, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTrackerValidation(t *testing.T) {
	e := setup()
	tok := token(t, uuid.New(), "")

	w := e.do(t, http.MethodPost, "/api/v1/trackers", tok, createBody)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no email in token or body")

	w = e.do(t, http.MethodPost, "/api/v1/trackers", tok, `{"owner":"acme","name":"widgets","notify_email":"x@example.com","subscriptions":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/v1/trackers", tok, `{"owner":"acme","name":"missing","notify_email":"x@example.com","subscriptions":[{"kind":"new_fork"}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "repository not found", env.Error.Message)
}

func TestTrackerAccessControl(t *testing.T) {
	e := setup()
	owner := token(t, uuid.New(), "dev@example.com")
	other := token(t, uuid.New(), "other@example.com")

	w := e.do(t, http.MethodPost, "/api/v1/trackers", owner, createBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Tracker
	decode(t, w, &created)

	path := "/api/v1/trackers/" + created.ID.String()
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, other, "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, other, "").Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, path, "", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/trackers/not-a-uuid", owner, "").Code)
}

func TestReactivateAfterDeactivation(t *testing.T) {
	e := setup()
	user := uuid.New()
	tok := token(t, user, "dev@example.com")

	w := e.do(t, http.MethodPost, "/api/v1/trackers", tok, createBody)
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Tracker
	decode(t, w, &created)

	for i := 0; i < model.DefaultErrorLimit; i++ {
		_, _, err := e.store.Trackers().RecordFailure(context.Background(), created.ID, "rate limited", model.DefaultErrorLimit)
		require.NoError(t, err)
	}

	path := "/api/v1/trackers/" + created.ID.String()
	var got model.Tracker
	decode(t, e.do(t, http.MethodGet, path, tok, ""), &got)
	assert.False(t, got.IsActive)
	assert.Equal(t, model.DefaultErrorLimit, got.ErrorCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "rate limited", *got.LastError)

	decode(t, e.do(t, http.MethodPost, path+"/reactivate", tok, ""), &got)
	assert.True(t, got.IsActive)
	assert.Zero(t, got.ErrorCount)
}
