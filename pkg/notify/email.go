package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// EmailConfig holds SMTP configuration for sending emails.
type EmailConfig struct {
	SMTPServer string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	FromEmail  string
	ToEmail    string
}

// Enabled reports whether enough is configured to send.
func (c EmailConfig) Enabled() bool {
	return c.SMTPServer != "" && c.ToEmail != ""
}

// EmailSender delivers messages via SMTP as plain text.
type EmailSender struct {
	cfg  EmailConfig
	log  *slog.Logger
	send func(*gomail.Message) error
}

func NewEmailSender(cfg EmailConfig, log *slog.Logger) *EmailSender {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = cfg.SMTPUser
	}
	s := &EmailSender{cfg: cfg, log: log}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		d.Timeout = 10 * time.Second
		return d.DialAndSend(m)
	}
	return s
}

func (s *EmailSender) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.FromEmail)
	m.SetHeader("To", s.cfg.ToEmail)
	m.SetHeader("Subject", msg.Subject())
	m.SetHeader("X-Priority", xPriority(msg))
	m.SetBody("text/plain", Format(msg))

	if err := s.send(m); err != nil {
		return fmt.Errorf("notify: email to %s: %w", s.cfg.ToEmail, err)
	}
	s.log.Info("notify: email sent", "message_id", msg.ID, "subject", msg.Subject())
	return nil
}

func xPriority(m Message) string {
	switch {
	case m.Silent:
		return "5"
	case m.Score.Priority == domain.PriorityHigh:
		return "1"
	}
	return "3"
}
