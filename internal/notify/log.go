package notify

import (
	"context"
	"log/slog"

	"github.com/opengov-pe/radar/internal/domain"
)

// LogMailer writes emails to the structured log instead of sending them.
// Used for local development and tests.
type LogMailer struct{}

// NewLogMailer creates a log-only mailer.
func NewLogMailer() *LogMailer {
	return &LogMailer{}
}

// Send logs the email and returns nil.
func (m *LogMailer) Send(ctx context.Context, email *domain.Email) error {
	slog.Info("email (log mailer)",
		"template", email.TemplateKey,
		"to", email.To,
		"subject", email.Subject,
		"payload", email.Payload,
	)
	return nil
}
