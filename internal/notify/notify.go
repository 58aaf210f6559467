// Package notify delivers notification jobs to users.
package notify

import (
	"context"

	"github.com/jwalitptl/repo-tracker/internal/model"
	"github.com/jwalitptl/repo-tracker/pkg/logger"
)

// Sender delivers one job. A nil error means the job was accepted for delivery.
type Sender interface {
	Send(ctx context.Context, job *model.NotificationJob) error
}

// LogSender writes jobs to the log instead of delivering them.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, job *model.NotificationJob) error {
	subject, _, _, err := Render(job, "")
	if err != nil {
		return err
	}
	s.log.Info("notification",
		"job", job.ID.String(),
		"recipient", job.Email,
		"subject", subject,
		"events", len(job.Events))
	return nil
}
