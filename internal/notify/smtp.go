package notify

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/repo-tracker/internal/config"
	"github.com/jwalitptl/repo-tracker/internal/model"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends one email per job.
type SMTPSender struct {
	d         dialer
	from      string
	manageURL string
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	manage := ""
	if cfg.BaseURL != "" {
		manage = strings.TrimSuffix(cfg.BaseURL, "/") + "/trackers"
	}
	return &SMTPSender{
		d:         gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:      cfg.From,
		manageURL: manage,
	}
}

func (s *SMTPSender) Send(ctx context.Context, job *model.NotificationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.Email == "" {
		return fmt.Errorf("job %s has no recipient", job.ID)
	}
	subject, text, html, err := Render(job, s.manageURL)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", job.Email)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", job.Email, err)
	}
	return nil
}
