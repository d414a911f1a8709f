package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/opengov-pe/radar/internal/domain"
)

// HTTPMailer posts emails to a SendGrid-compatible HTTP API.
type HTTPMailer struct {
	baseURL    string
	apiKey     string
	fromEmail  string
	fromName   string
	httpClient *http.Client
}

// NewHTTPMailer creates an HTTP API mailer.
func NewHTTPMailer(cfg domain.MailerConfig) (*HTTPMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("mailer API key is required")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("mailer from address is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPMailer{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		fromEmail:  cfg.FromEmail,
		fromName:   cfg.FromName,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

// Send posts the email to the mail API. Non-2xx responses become errors with
// the API body attached.
func (m *HTTPMailer) Send(ctx context.Context, email *domain.Email) error {
	body := sendRequest{
		Personalizations: []personalization{
			{To: []emailAddress{{Email: email.To, Name: email.ToName}}},
		},
		From:    emailAddress{Email: m.fromEmail, Name: m.fromName},
		Subject: email.Subject,
		Content: []mailContent{
			{Type: "text/plain", Value: renderBody(email)},
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/v3/mail/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail API returned %d: %s", resp.StatusCode, string(apiBody))
	}

	return nil
}

// renderBody produces the plain-text body: a template-specific lead line plus
// the payload fields in stable order.
func renderBody(email *domain.Email) string {
	var b strings.Builder

	if email.ToName != "" {
		fmt.Fprintf(&b, "Prezado(a) %s,\n\n", email.ToName)
	}

	switch email.TemplateKey {
	case domain.TemplateAvaliacaoRecebida:
		b.WriteString("Sua autoavaliação foi recebida e está em análise pela SCGE.\n")
	case domain.TemplateAvaliacaoDevolvida:
		b.WriteString("Sua avaliação foi analisada e devolvida. O prazo para recurso está aberto.\n")
	case domain.TemplateRecursoRecebido:
		b.WriteString("Seu recurso foi recebido e está em análise.\n")
	case domain.TemplateRecursoExpirado:
		b.WriteString("O prazo para recurso encerrou sem manifestação. A avaliação segue para análise final.\n")
	case domain.TemplateAvaliacaoFinalizada:
		b.WriteString("Sua avaliação foi finalizada e a pontuação foi publicada.\n")
	default:
		b.WriteString("Há uma atualização na sua avaliação.\n")
	}

	if len(email.Payload) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(email.Payload))
		for k := range email.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, email.Payload[k])
		}
	}

	return b.String()
}
