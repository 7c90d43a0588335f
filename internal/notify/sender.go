// Package notify delivers verification codes and password reset links to
// principals. Delivery failures surface to the caller so login flows can
// refuse to issue a challenge nobody can complete.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/wneessen/go-mail"
)

type Sender interface {
	SendVerificationCode(ctx context.Context, to, name, code string) error
	SendPasswordReset(ctx context.Context, to, token string) error

	// Ping reports whether the relay behind the sender is reachable.
	// Readiness probes call it; delivery paths do not.
	Ping(ctx context.Context) error
}

// LogSender writes outgoing mail to the process log. Used in development
// and in tests.
type LogSender struct{}

func (LogSender) SendVerificationCode(_ context.Context, to, name, code string) error {
	log.Printf("event=mail_verification_code to=%q name=%q code=%q", to, name, code)
	return nil
}

func (LogSender) SendPasswordReset(_ context.Context, to, token string) error {
	log.Printf("event=mail_password_reset to=%q token=%q", to, token)
	return nil
}

func (LogSender) Ping(context.Context) error { return nil }

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail through a relay using go-mail. A fresh dial
// per message keeps the sender stateless across requests.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) SendVerificationCode(ctx context.Context, to, name, code string) error {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour verification code is: %s\n\nIt expires in 10 minutes. If you did not request it, ignore this message.\n",
		name, code,
	)
	return s.send(ctx, to, "Your verification code", body)
}

func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, token string) error {
	body := fmt.Sprintf(
		"A password reset was requested for this address.\n\nReset token: %s\n\nThe token expires in 30 minutes. If you did not request a reset, ignore this message.\n",
		token,
	)
	return s.send(ctx, to, "Password reset", body)
}

// Ping dials the relay and disconnects without sending anything.
func (s *SMTPSender) Ping(ctx context.Context) error {
	client, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	return client.Close()
}

func (s *SMTPSender) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	client, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (s *SMTPSender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}
