// Package tracker serves the subscription API.
package tracker

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/repo-tracker/internal/middleware"
	"github.com/jwalitptl/repo-tracker/internal/model"
	trackerService "github.com/jwalitptl/repo-tracker/internal/service/tracker"
	apperrors "github.com/jwalitptl/repo-tracker/pkg/errors"
	"github.com/jwalitptl/repo-tracker/pkg/httputil"
)

type Service interface {
	Create(ctx context.Context, in trackerService.CreateInput) (*model.Tracker, error)
	List(ctx context.Context, userID uuid.UUID) ([]*model.Tracker, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error)
	Pause(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error)
	Resume(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error)
	Reactivate(ctx context.Context, userID, id uuid.UUID) (*model.Tracker, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	ListEvents(ctx context.Context, userID, id uuid.UUID, limit int) ([]*model.EventLogEntry, error)
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	trackers := r.Group("/trackers")
	{
		trackers.POST("", h.CreateTracker)
		trackers.GET("", h.ListTrackers)
		trackers.GET("/:id", h.GetTracker)
		trackers.DELETE("/:id", h.DeleteTracker)
		trackers.POST("/:id/pause", h.PauseTracker)
		trackers.POST("/:id/resume", h.ResumeTracker)
		trackers.POST("/:id/reactivate", h.ReactivateTracker)
		trackers.GET("/:id/events", h.ListEvents)
	}
}

type createTrackerRequest struct {
	Owner         string              `json:"owner" binding:"required"`
	Name          string              `json:"name" binding:"required"`
	NotifyEmail   string              `json:"notify_email" binding:"omitempty,email"`
	Subscriptions model.Subscriptions `json:"subscriptions" binding:"required,min=1,dive"`
}

func (h *Handler) CreateTracker(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(nil))
		return
	}

	var req createTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	email := req.NotifyEmail
	if email == "" {
		email = middleware.UserEmail(c)
	}
	if email == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("notify_email is required", nil))
		return
	}

	t, err := h.service.Create(c.Request.Context(), trackerService.CreateInput{
		UserID:        userID,
		Email:         email,
		Owner:         req.Owner,
		Name:          req.Name,
		Subscriptions: req.Subscriptions,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, t)
}

func (h *Handler) ListTrackers(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(nil))
		return
	}
	trackers, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if trackers == nil {
		trackers = []*model.Tracker{}
	}
	httputil.RespondWithSuccess(c, trackers)
}

// ids extracts the caller and the path id, responding on failure.
func ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized(nil))
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid tracker ID", err))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func (h *Handler) GetTracker(c *gin.Context) {
	h.respondTracker(c, h.service.Get)
}

func (h *Handler) PauseTracker(c *gin.Context) {
	h.respondTracker(c, h.service.Pause)
}

func (h *Handler) ResumeTracker(c *gin.Context) {
	h.respondTracker(c, h.service.Resume)
}

func (h *Handler) ReactivateTracker(c *gin.Context) {
	h.respondTracker(c, h.service.Reactivate)
}

func (h *Handler) respondTracker(c *gin.Context, fn func(context.Context, uuid.UUID, uuid.UUID) (*model.Tracker, error)) {
	userID, id, ok := ids(c)
	if !ok {
		return
	}
	t, err := fn(c.Request.Context(), userID, id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, t)
}

func (h *Handler) DeleteTracker(c *gin.Context) {
	userID, id, ok := ids(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deleted": id})
}

func (h *Handler) ListEvents(c *gin.Context) {
	userID, id, ok := ids(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.RespondWithError(c, apperrors.BadRequest("invalid limit", err))
			return
		}
		limit = n
	}
	events, err := h.service.ListEvents(c.Request.Context(), userID, id, limit)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if events == nil {
		events = []*model.EventLogEntry{}
	}
	httputil.RespondWithSuccess(c, events)
}
