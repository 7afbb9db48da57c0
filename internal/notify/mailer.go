package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/config"
)

// Email is one outbound message.
type Email struct {
	To      []string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, e Email) error
}

// SMTPSender delivers through an SMTP relay with mandatory STARTTLS.
type SMTPSender struct {
	from   string
	dialer *mail.Dialer
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipVerify,
	}
	return &SMTPSender{from: cfg.From, dialer: d}
}

func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	if len(e.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", e.To...)
	m.SetHeader("Subject", e.Subject)
	m.SetBody("text/html", e.HTML)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send %q: %w", e.Subject, err)
	}
	return nil
}

// LogSender only logs; used when no SMTP relay is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, e Email) error {
	log.WithFields(log.Fields{"to": e.To, "subject": e.Subject}).Info("[Mail] SMTP not configured, skipping delivery")
	return nil
}

// NewSender picks SMTP when configured.
func NewSender(cfg config.MailConfig) Sender {
	if cfg.Enabled() {
		return NewSMTPSender(cfg)
	}
	return LogSender{}
}
