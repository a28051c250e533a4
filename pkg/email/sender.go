package email

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Message is a single HTML email.
type Message struct {
	To       string
	Subject  string
	HTML     string
	Template string
}

// Validate checks the fields every sender needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("email: recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("email: subject is required")
	}
	return nil
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

const logPreviewLength = 200

// LogSender logs messages instead of delivering them.
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a LogSender. A nil logger uses the context logger.
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the recipient, subject and the start of the body.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	logger := s.logger
	if logger == nil {
		logger = observability.FromContext(ctx)
	}

	preview := msg.HTML
	if len(preview) > logPreviewLength {
		preview = preview[:logPreviewLength] + "..."
	}
	logger.WithFields(map[string]interface{}{
		"to":       msg.To,
		"subject":  msg.Subject,
		"template": msg.Template,
		"preview":  preview,
	}).Info("Email not sent, no provider configured")
	return nil
}
