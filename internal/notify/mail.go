package notify

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// MailConfig holds SMTP submission settings. The dialer upgrades to TLS with
// STARTTLS whenever the server offers it.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends plain-text email, one message per notification.
type Mailer struct {
	from   string
	dialer dialSender
}

func NewMailer(cfg MailConfig) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{
		from:   from,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *Mailer) Send(ctx context.Context, n domain.Notification) error {
	if m == nil {
		return errors.New("mail disabled")
	}
	if len(n.Recipients) == 0 {
		return errors.New("mail: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", n.Recipients...)
	msg.SetHeader("Subject", n.Subject)
	msg.SetBody("text/plain", n.Body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("mail send: %w", err)
	}
	return nil
}
