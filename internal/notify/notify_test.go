package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opengov-pe/radar/internal/domain"
)

func TestNewMailer(t *testing.T) {
	t.Run("LogType", func(t *testing.T) {
		m, err := New(domain.MailerConfig{Type: "log"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := m.(*LogMailer); !ok {
			t.Error("expected LogMailer for log type")
		}
	})

	t.Run("HTTPRequiresKey", func(t *testing.T) {
		_, err := New(domain.MailerConfig{Type: "http"})
		if err == nil {
			t.Error("expected error without API key")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.MailerConfig{Type: "smtp"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	if got := Subject(domain.TemplateAvaliacaoFinalizada); !strings.Contains(got, "finalizada") {
		t.Errorf("unexpected subject: %q", got)
	}
	if got := Subject("unknown"); got == "" {
		t.Error("expected fallback subject")
	}
}

func TestHTTPMailerSend(t *testing.T) {
	var gotAuth string
	var gotBody sendRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewHTTPMailer(domain.MailerConfig{
		Type:       "http",
		APIBaseURL: srv.URL,
		APIKey:     "test-key",
		FromEmail:  "portal@scge.pe.gov.br",
		FromName:   "Portal de Transparência",
	})
	if err != nil {
		t.Fatalf("NewHTTPMailer failed: %v", err)
	}

	email := &domain.Email{
		TemplateKey: domain.TemplateAvaliacaoDevolvida,
		To:          "maria.souza@exemplo.pe.gov.br",
		ToName:      "Maria Souza",
		Subject:     Subject(domain.TemplateAvaliacaoDevolvida),
		Payload:     map[string]string{"prazoRecurso": "2026-09-10"},
	}

	if err := m.Send(context.Background(), email); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if len(gotBody.Personalizations) != 1 || gotBody.Personalizations[0].To[0].Email != email.To {
		t.Errorf("unexpected recipients: %+v", gotBody.Personalizations)
	}
	if gotBody.From.Email != "portal@scge.pe.gov.br" {
		t.Errorf("unexpected from: %+v", gotBody.From)
	}
	if len(gotBody.Content) != 1 || !strings.Contains(gotBody.Content[0].Value, "prazoRecurso: 2026-09-10") {
		t.Errorf("unexpected content: %+v", gotBody.Content)
	}
}

func TestHTTPMailerSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	m, err := NewHTTPMailer(domain.MailerConfig{
		Type:       "http",
		APIBaseURL: srv.URL,
		APIKey:     "bad-key",
		FromEmail:  "portal@scge.pe.gov.br",
	})
	if err != nil {
		t.Fatalf("NewHTTPMailer failed: %v", err)
	}

	err = m.Send(context.Background(), &domain.Email{
		TemplateKey: domain.TemplateRecursoExpirado,
		To:          "x@exemplo.pe.gov.br",
		Subject:     "x",
	})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got: %v", err)
	}
}
