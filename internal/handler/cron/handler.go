// Package cron exposes the batch jobs to an external scheduler.
package cron

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/repo-tracker/internal/model"
	apperrors "github.com/jwalitptl/repo-tracker/pkg/errors"
	"github.com/jwalitptl/repo-tracker/pkg/httputil"
)

type TrackerChecker interface {
	CheckTrackers(ctx context.Context) (*model.RunReport, error)
}

type Drainer interface {
	SendPending(ctx context.Context) (*model.DrainReport, error)
}

type Handler struct {
	checker TrackerChecker
	drainer Drainer
}

func NewHandler(checker TrackerChecker, drainer Drainer) *Handler {
	return &Handler{checker: checker, drainer: drainer}
}

// RegisterRoutes mounts the job endpoints. auth runs before any job work.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth gin.HandlerFunc) {
	cron := r.Group("/cron", auth)
	{
		cron.GET("/check-trackers", h.CheckTrackers)
		cron.GET("/send-email", h.SendEmail)
	}
}

// CheckTrackers responds with the run report. A run skipped because another
// holds the lock is still a 200.
func (h *Handler) CheckTrackers(c *gin.Context) {
	report, err := h.checker.CheckTrackers(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) SendEmail(c *gin.Context) {
	report, err := h.drainer.SendPending(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, report)
}
