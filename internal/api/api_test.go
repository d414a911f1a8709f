package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/opengov-pe/radar/internal/auth"
	"github.com/opengov-pe/radar/internal/cache"
	"github.com/opengov-pe/radar/internal/crawler"
	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/lifecycle"
	"github.com/opengov-pe/radar/internal/repository"
	"github.com/opengov-pe/radar/internal/verify"
)

type testEnv struct {
	server    *Server
	store     domain.Store
	secToken  string
	scgeToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "radar-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.SaveSecretaria(ctx, &domain.Secretaria{
		ID: 1, Nome: "Secretaria da Fazenda", Sigla: "SEFAZ", URL: "https://www.sefaz.pe.gov.br",
	}); err != nil {
		t.Fatalf("SaveSecretaria failed: %v", err)
	}
	requisitos := []*domain.Requisito{
		{ID: 1, Texto: "Publica despesas", Scoring: domain.ScoringSimples, Pontuacao: 10,
			LinkFixo: "https://www.sefaz.pe.gov.br/despesas"},
		{ID: 2, Texto: "Publica receitas e histórico", Scoring: domain.ScoringDividida, Pontuacao: 20},
	}
	for _, req := range requisitos {
		if err := store.SaveRequisito(ctx, req); err != nil {
			t.Fatalf("SaveRequisito failed: %v", err)
		}
	}

	engine := lifecycle.NewEngine(store, nil, cache.NewLRUCache(100), domain.PolicyConfig{
		AppealWindow: 10 * 24 * time.Hour,
		CicloAno:     2026,
	})

	checker, err := verify.NewChecker(4)
	if err != nil {
		t.Fatalf("NewChecker failed: %v", err)
	}
	if err := checker.LoadChecklist(requisitos); err != nil {
		t.Fatalf("LoadChecklist failed: %v", err)
	}

	registry := crawler.NewRegistry(store,
		func(ctx context.Context, sess *domain.ScanSession, depth int) error { return nil },
		domain.CrawlerConfig{DefaultDepth: 3})
	t.Cleanup(registry.Shutdown)

	jwtService := auth.NewJWTService("test-signing-key", "radar-test")
	secToken, err := jwtService.GenerateToken(auth.RoleSecretaria, 1, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	scgeToken, err := jwtService.GenerateToken(auth.RoleSCGE, 0, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	server := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		engine, store, cache.NewLRUCache(100), registry, checker, jwtService, "test")

	return &testEnv{
		server:    server,
		store:     store,
		secToken:  secToken,
		scgeToken: scgeToken,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func submitBody() SubmitRequest {
	return SubmitRequest{
		SecretariaID:     1,
		URLSecretaria:    "https://www.sefaz.pe.gov.br",
		NomeResponsavel:  "Maria Souza",
		EmailResponsavel: "maria.souza@sefaz.pe.gov.br",
		Respostas: []SubmitRespostaInput{
			{RequisitoID: 1, Atende: true, LinkComprovante: "https://www.sefaz.pe.gov.br/despesas"},
			{RequisitoID: 2, Atende: false},
		},
	}
}

func (e *testEnv) submit(t *testing.T) *domain.Avaliacao {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/avaliacoes", e.secToken, submitBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var av domain.Avaliacao
	if err := json.Unmarshal(rec.Body.Bytes(), &av); err != nil {
		t.Fatalf("failed to decode avaliacao: %v", err)
	}
	return &av
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", rec.Code)
	}
}

func TestSubmitAvaliacao(t *testing.T) {
	env := newTestEnv(t)

	t.Run("RequiresToken", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/avaliacoes", "", submitBody())
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("RejectsForeignSecretaria", func(t *testing.T) {
		body := submitBody()
		body.SecretariaID = 2
		rec := env.do(t, http.MethodPost, "/avaliacoes", env.secToken, body)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("RejectsIncompleteChecklist", func(t *testing.T) {
		body := submitBody()
		body.Respostas = body.Respostas[:1]
		rec := env.do(t, http.MethodPost, "/avaliacoes", env.secToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Created", func(t *testing.T) {
		av := env.submit(t)
		if av.Status != domain.StatusEmAnaliseSCGE {
			t.Errorf("expected status %s, got %s", domain.StatusEmAnaliseSCGE, av.Status)
		}
		if av.PontuacaoAutoavaliacao != 10 {
			t.Errorf("expected self-assessed 10, got %d", av.PontuacaoAutoavaliacao)
		}
	})
}

func TestLifecycleRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	av := env.submit(t)

	rec := env.do(t, http.MethodGet, "/avaliacoes/"+itoa(av.ID), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	var loaded domain.Avaliacao
	json.Unmarshal(rec.Body.Bytes(), &loaded)
	if len(loaded.Respostas) != 2 {
		t.Fatalf("expected 2 respostas, got %d", len(loaded.Respostas))
	}
	resp1 := loaded.Resposta(1)
	resp2 := loaded.Resposta(2)

	// First review is reviewer-only.
	review := ReviewRequest{StatusValidacao: domain.VerdictAprovado}
	rec = env.do(t, http.MethodPatch, "/respostas/"+itoa(resp1.ID)+"/validacao", env.secToken, review)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("review with secretaria token: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPatch, "/respostas/"+itoa(resp1.ID)+"/validacao", env.scgeToken, review)
	if rec.Code != http.StatusOK {
		t.Fatalf("review: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPatch, "/respostas/"+itoa(resp2.ID)+"/validacao", env.scgeToken, ReviewRequest{
		StatusValidacao:          domain.VerdictReprovado,
		StatusValidacaoHistorico: domain.VerdictReprovado,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("review resp2: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/devolver", env.scgeToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("devolver: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/avaliacoes/"+itoa(av.ID)+"/prazo-recurso", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("prazo-recurso: expected 200, got %d", rec.Code)
	}
	var info domain.DeadlineInfo
	json.Unmarshal(rec.Body.Bytes(), &info)
	if !info.WithinWindow {
		t.Error("expected open appeal window")
	}

	atende := true
	appeal := AppealRequest{Itens: []AppealItemInput{{
		RespostaID:    resp2.ID,
		RecursoAtende: &atende,
		Comentario:    "conteúdo publicado",
		Evidencias:    []string{"https://www.sefaz.pe.gov.br/receitas"},
	}}}

	// The reviewer token carries no secretariat, so the appeal is rejected.
	rec = env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/recurso", env.scgeToken, appeal)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("recurso with reviewer token: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/recurso", env.secToken, appeal)
	if rec.Code != http.StatusOK {
		t.Fatalf("recurso: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPatch, "/respostas/"+itoa(resp2.ID)+"/analise-final", env.scgeToken, FinalReviewRequest{
		AnaliseFinal:          domain.VerdictAprovado,
		AnaliseFinalHistorico: domain.VerdictAprovado,
		StatusRecurso:         domain.RecursoDeferido,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("analise-final: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/finalizar", env.scgeToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("finalizar: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var final domain.Avaliacao
	json.Unmarshal(rec.Body.Bytes(), &final)
	if final.Status != domain.StatusFinalizada {
		t.Errorf("expected finalizada, got %s", final.Status)
	}
	if final.PontuacaoFinal != 30 {
		t.Errorf("expected final 30, got %d", final.PontuacaoFinal)
	}

	// Terminal state maps to 409 on any further transition.
	rec = env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/finalizar", env.scgeToken, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("double finalizar: expected 409, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	t.Run("NotFound", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/avaliacoes/999", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("BadID", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/avaliacoes/abc", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("WrongState", func(t *testing.T) {
		av := env.submit(t)
		rec := env.do(t, http.MethodPost, "/avaliacoes/"+itoa(av.ID)+"/finalizar", env.scgeToken, nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("InvalidToken", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/avaliacoes", "not-a-token", submitBody())
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestReferenceData(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ { // second hit comes from cache
		rec := env.do(t, http.MethodGet, "/requisitos", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("requisitos: expected 200, got %d", rec.Code)
		}
		var payload struct {
			Requisitos []*domain.Requisito `json:"requisitos"`
			Count      int                 `json:"count"`
		}
		json.Unmarshal(rec.Body.Bytes(), &payload)
		if payload.Count != 2 {
			t.Errorf("expected 2 requisitos, got %d", payload.Count)
		}
	}

	rec := env.do(t, http.MethodGet, "/secretarias", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("secretarias: expected 200, got %d", rec.Code)
	}
}

func TestScanRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/varreduras", env.secToken, StartScanRequest{
		URLBase: "https://www.sefaz.pe.gov.br",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("varredura with secretaria token: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/varreduras", env.scgeToken, StartScanRequest{
		URLBase: "https://www.sefaz.pe.gov.br",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("varredura: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var sess domain.ScanSession
	json.Unmarshal(rec.Body.Bytes(), &sess)
	if sess.ID == "" {
		t.Fatal("expected session id")
	}

	rec = env.do(t, http.MethodGet, "/varreduras/"+sess.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get varredura: expected 200, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/links", env.scgeToken, domain.Link{
		SessionID: sess.ID,
		URL:       "https://www.sefaz.pe.gov.br/despesas",
		Status:    "ok",
		HTTPCode:  200,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create link: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPatch, "/links/by-url", env.scgeToken, UpdateLinkRequest{
		SessionID: sess.ID,
		URL:       "https://www.sefaz.pe.gov.br/despesas",
		Link: domain.Link{
			Status:   "ok",
			HTTPCode: 200,
			FinalURL: "https://www.sefaz.pe.gov.br/despesas/",
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update link: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/links?sessao="+sess.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list links: expected 200, got %d", rec.Code)
	}
	var links struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &links)
	if links.Count != 1 {
		t.Errorf("expected 1 link, got %d", links.Count)
	}

	rec = env.do(t, http.MethodPost, "/pre-validar", env.scgeToken, PreValidateRequest{
		SessaoID: sess.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("pre-validar: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Findings []verify.Finding `json:"findings"`
	}
	json.Unmarshal(rec.Body.Bytes(), &result)
	if len(result.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(result.Findings))
	}
	if !result.Findings[0].Atendido {
		t.Error("expected declared link to be found among scanned links")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
