package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

// defaultFromName signs mail when the message names no clinic.
const defaultFromName = "Sophie"

// EmailSender delivers one email. SES is the production sender; SendGrid and
// the logging stub cover other deployments.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is one rendered notice. The sending address belongs to the
// deployment; FromName and ReplyTo let each clinic sign its own mail.
type EmailMessage struct {
	To       string
	ToName   string
	FromName string
	ReplyTo  string
	Subject  string
	Body     string
	HTML     string
}

func (m EmailMessage) fromName(fallback string) string {
	if m.FromName != "" {
		return m.FromName
	}
	return fallback
}

type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridSender sends through the SendGrid v3 mail API.
type SendGridSender struct {
	api       sendGridAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil without an API key so callers fall back to the stub.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	return newSendGridSender(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newSendGridSender(api sendGridAPI, cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SendGridSender{api: api, fromEmail: cfg.FromEmail, fromName: cfg.FromName, logger: logger}
}

// mailFor builds the v3 payload: the clinic's display name on the
// deployment's address, and replies routed to the clinic.
func (s *SendGridSender) mailFor(msg EmailMessage) *mail.SGMailV3 {
	from := mail.NewEmail(msg.fromName(s.fromName), s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	m := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail(msg.fromName(s.fromName), msg.ReplyTo))
	}
	return m
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.api == nil {
		return errors.New("notify: sendgrid client not configured")
	}

	resp, err := s.api.SendWithContext(ctx, s.mailFor(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err)
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected message", "status", resp.StatusCode, "body", resp.Body)
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "subject", msg.Subject, "from_name", msg.fromName(s.fromName), "status", resp.StatusCode)
	return nil
}

// StubEmailSender logs instead of sending. Used when no provider is configured.
type StubEmailSender struct {
	logger *logging.Logger
}

func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("email not sent, no provider configured", "subject", msg.Subject, "from_name", msg.FromName)
	return nil
}

var (
	_ EmailSender = (*SendGridSender)(nil)
	_ EmailSender = (*StubEmailSender)(nil)
)
