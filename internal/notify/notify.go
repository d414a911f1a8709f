// Package notify delivers lifecycle notification emails.
package notify

import (
	"fmt"

	"github.com/opengov-pe/radar/internal/domain"
)

// New creates a mailer based on configuration.
// "log" writes emails to the structured log, "http" posts them to a
// SendGrid-compatible HTTP API.
func New(cfg domain.MailerConfig) (domain.Mailer, error) {
	switch cfg.Type {
	case "log":
		return NewLogMailer(), nil

	case "http":
		return NewHTTPMailer(cfg)

	default:
		return nil, fmt.Errorf("unsupported mailer type: %s", cfg.Type)
	}
}

// Subject returns the pt-BR subject line for a lifecycle template.
func Subject(templateKey string) string {
	switch templateKey {
	case domain.TemplateAvaliacaoRecebida:
		return "Autoavaliação recebida"
	case domain.TemplateAvaliacaoDevolvida:
		return "Avaliação devolvida - prazo de recurso aberto"
	case domain.TemplateRecursoRecebido:
		return "Recurso recebido"
	case domain.TemplateRecursoExpirado:
		return "Prazo de recurso encerrado"
	case domain.TemplateAvaliacaoFinalizada:
		return "Avaliação finalizada - pontuação publicada"
	default:
		return "Notificação do portal de transparência"
	}
}
