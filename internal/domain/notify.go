package domain

import "context"

// Mailer sends a transactional email for a template key. Senders must not
// influence engine state: a failed send is the caller's warning, never a
// rollback.
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// Email is one outgoing notification.
type Email struct {
	TemplateKey string            `json:"templateKey"`
	To          string            `json:"to"`
	ToName      string            `json:"toName,omitempty"`
	Subject     string            `json:"subject"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// Template keys for lifecycle notifications.
const (
	TemplateAvaliacaoRecebida   = "avaliacao-recebida"
	TemplateAvaliacaoDevolvida  = "avaliacao-devolvida"
	TemplateRecursoRecebido     = "recurso-recebido"
	TemplateRecursoExpirado     = "recurso-expirado"
	TemplateAvaliacaoFinalizada = "avaliacao-finalizada"
)

// MailerConfig holds configuration for mailer initialization.
type MailerConfig struct {
	// Type is the mailer type: "log" or "http"
	Type string

	// HTTP API settings (SendGrid-compatible)
	APIBaseURL string
	APIKey     string
	FromEmail  string
	FromName   string
	TimeoutSec int
}
