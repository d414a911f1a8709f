package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/opengov-pe/radar/internal/domain"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "radar-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testAvaliacao(secretariaID int64) *domain.Avaliacao {
	now := time.Now().UTC()
	return &domain.Avaliacao{
		SecretariaID:     secretariaID,
		CicloAno:         2026,
		URLSecretaria:    "https://www.exemplo.pe.gov.br",
		NomeResponsavel:  "Maria Souza",
		EmailResponsavel: "maria.souza@exemplo.pe.gov.br",
		Status:           domain.StatusEmAnaliseSCGE,
		CreatedAt:        now,
		UpdatedAt:        now,
		Respostas: []*domain.Resposta{
			{
				RequisitoID:    1,
				Atende:         true,
				AtendeOriginal: true,
				Evidencias: []*domain.Evidencia{
					{URL: "https://www.exemplo.pe.gov.br/transparencia", Tipo: domain.EvidenciaOriginal, CreatedAt: now},
				},
			},
			{
				RequisitoID:    2,
				Atende:         false,
				AtendeOriginal: false,
			},
		},
	}
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateAndGetAvaliacao", func(t *testing.T) {
		av := testAvaliacao(1)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}
		if av.ID == 0 {
			t.Fatal("expected assigned id")
		}

		got, err := store.GetAvaliacao(ctx, av.ID)
		if err != nil {
			t.Fatalf("GetAvaliacao failed: %v", err)
		}
		if got.SecretariaID != 1 {
			t.Errorf("expected SecretariaID 1, got %d", got.SecretariaID)
		}
		if got.Status != domain.StatusEmAnaliseSCGE {
			t.Errorf("expected status %s, got %s", domain.StatusEmAnaliseSCGE, got.Status)
		}
		if len(got.Respostas) != 2 {
			t.Fatalf("expected 2 respostas, got %d", len(got.Respostas))
		}
		if !got.Respostas[0].AtendeOriginal {
			t.Error("expected AtendeOriginal true on first resposta")
		}
		if len(got.Respostas[0].Evidencias) != 1 {
			t.Fatalf("expected 1 evidencia, got %d", len(got.Respostas[0].Evidencias))
		}
		if got.Respostas[0].Evidencias[0].Tipo != domain.EvidenciaOriginal {
			t.Errorf("expected original evidence, got %s", got.Respostas[0].Evidencias[0].Tipo)
		}
	})

	t.Run("GetAvaliacaoNotFound", func(t *testing.T) {
		_, err := store.GetAvaliacao(ctx, 99999)
		if !domain.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("UpdateAvaliacao", func(t *testing.T) {
		av := testAvaliacao(2)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		updated, err := store.UpdateAvaliacao(ctx, av.ID, func(a *domain.Avaliacao) error {
			a.Status = domain.StatusAguardandoRecurso
			prazo := time.Now().UTC().Add(10 * 24 * time.Hour)
			a.PrazoRecurso = &prazo
			a.Respostas[0].StatusValidacao = domain.VerdictAprovado
			a.UpdatedAt = time.Now().UTC()
			return nil
		})
		if err != nil {
			t.Fatalf("UpdateAvaliacao failed: %v", err)
		}
		if updated.Status != domain.StatusAguardandoRecurso {
			t.Errorf("expected status %s, got %s", domain.StatusAguardandoRecurso, updated.Status)
		}

		got, err := store.GetAvaliacao(ctx, av.ID)
		if err != nil {
			t.Fatalf("GetAvaliacao failed: %v", err)
		}
		if got.PrazoRecurso == nil {
			t.Fatal("expected PrazoRecurso to be set")
		}
		if got.Respostas[0].StatusValidacao != domain.VerdictAprovado {
			t.Errorf("expected aprovado, got %s", got.Respostas[0].StatusValidacao)
		}
	})

	t.Run("UpdateAvaliacaoRollsBackOnError", func(t *testing.T) {
		av := testAvaliacao(3)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		wantErr := domain.NewStateError("finalize", av.Status, domain.StatusEmAnaliseDeRecurso)
		_, err := store.UpdateAvaliacao(ctx, av.ID, func(a *domain.Avaliacao) error {
			a.Status = domain.StatusFinalizada
			return wantErr
		})
		if !domain.IsState(err) {
			t.Fatalf("expected StateError, got %v", err)
		}

		got, err := store.GetAvaliacao(ctx, av.ID)
		if err != nil {
			t.Fatalf("GetAvaliacao failed: %v", err)
		}
		if got.Status != domain.StatusEmAnaliseSCGE {
			t.Errorf("expected rollback to %s, got %s", domain.StatusEmAnaliseSCGE, got.Status)
		}
	})

	t.Run("UpdateAvaliacaoAppendsAndReplacesEvidence", func(t *testing.T) {
		av := testAvaliacao(4)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		_, err := store.UpdateAvaliacao(ctx, av.ID, func(a *domain.Avaliacao) error {
			a.Respostas[0].Evidencias = append(a.Respostas[0].Evidencias, &domain.Evidencia{
				URL:       "https://www.exemplo.pe.gov.br/recurso-1",
				Tipo:      domain.EvidenciaRecurso,
				CreatedAt: time.Now().UTC(),
			})
			return nil
		})
		if err != nil {
			t.Fatalf("append evidence failed: %v", err)
		}

		// Replace the appeal evidence with a different URL; the original must
		// survive untouched.
		_, err = store.UpdateAvaliacao(ctx, av.ID, func(a *domain.Avaliacao) error {
			kept := a.Respostas[0].Evidencias[:0]
			for _, ev := range a.Respostas[0].Evidencias {
				if ev.Tipo == domain.EvidenciaOriginal {
					kept = append(kept, ev)
				}
			}
			a.Respostas[0].Evidencias = append(kept, &domain.Evidencia{
				URL:       "https://www.exemplo.pe.gov.br/recurso-2",
				Tipo:      domain.EvidenciaRecurso,
				CreatedAt: time.Now().UTC(),
			})
			return nil
		})
		if err != nil {
			t.Fatalf("replace evidence failed: %v", err)
		}

		got, err := store.GetAvaliacao(ctx, av.ID)
		if err != nil {
			t.Fatalf("GetAvaliacao failed: %v", err)
		}
		evs := got.Respostas[0].Evidencias
		if len(evs) != 2 {
			t.Fatalf("expected 2 evidencias, got %d", len(evs))
		}
		var recursoURL string
		for _, ev := range evs {
			if ev.Tipo == domain.EvidenciaRecurso {
				recursoURL = ev.URL
			}
		}
		if recursoURL != "https://www.exemplo.pe.gov.br/recurso-2" {
			t.Errorf("expected replaced appeal evidence, got %s", recursoURL)
		}
	})

	t.Run("AvaliacaoIDByResposta", func(t *testing.T) {
		av := testAvaliacao(5)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		id, err := store.AvaliacaoIDByResposta(ctx, av.Respostas[1].ID)
		if err != nil {
			t.Fatalf("AvaliacaoIDByResposta failed: %v", err)
		}
		if id != av.ID {
			t.Errorf("expected avaliacao %d, got %d", av.ID, id)
		}

		if _, err := store.AvaliacaoIDByResposta(ctx, 99999); !domain.IsNotFound(err) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("ListAguardandoRecurso", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Hour)
		future := time.Now().UTC().Add(time.Hour)

		expired := testAvaliacao(6)
		expired.Status = domain.StatusAguardandoRecurso
		expired.PrazoRecurso = &past
		if err := store.CreateAvaliacao(ctx, expired); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		open := testAvaliacao(7)
		open.Status = domain.StatusAguardandoRecurso
		open.PrazoRecurso = &future
		if err := store.CreateAvaliacao(ctx, open); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}

		ids, err := store.ListAguardandoRecurso(ctx, time.Now().UTC())
		if err != nil {
			t.Fatalf("ListAguardandoRecurso failed: %v", err)
		}

		found := map[int64]bool{}
		for _, id := range ids {
			found[id] = true
		}
		if !found[expired.ID] {
			t.Errorf("expected expired evaluation %d in sweep list", expired.ID)
		}
		if found[open.ID] {
			t.Errorf("did not expect open evaluation %d in sweep list", open.ID)
		}
	})

	t.Run("DeleteAvaliacaoCascades", func(t *testing.T) {
		av := testAvaliacao(8)
		if err := store.CreateAvaliacao(ctx, av); err != nil {
			t.Fatalf("CreateAvaliacao failed: %v", err)
		}
		respostaID := av.Respostas[0].ID

		if err := store.DeleteAvaliacao(ctx, av.ID); err != nil {
			t.Fatalf("DeleteAvaliacao failed: %v", err)
		}
		if _, err := store.GetAvaliacao(ctx, av.ID); !domain.IsNotFound(err) {
			t.Errorf("expected NotFoundError after delete, got %v", err)
		}
		if _, err := store.AvaliacaoIDByResposta(ctx, respostaID); !domain.IsNotFound(err) {
			t.Errorf("expected respostas to cascade, got %v", err)
		}

		if err := store.DeleteAvaliacao(ctx, av.ID); !domain.IsNotFound(err) {
			t.Errorf("expected NotFoundError on double delete, got %v", err)
		}
	})

	t.Run("SaveAndListRequisitos", func(t *testing.T) {
		reqs := []*domain.Requisito{
			{ID: 1, Texto: "Publica estrutura organizacional", Scoring: domain.ScoringSimples, Pontuacao: 10},
			{ID: 2, Texto: "Publica receitas e despesas", Scoring: domain.ScoringDividida, Pontuacao: 20},
		}
		for _, r := range reqs {
			if err := store.SaveRequisito(ctx, r); err != nil {
				t.Fatalf("SaveRequisito failed: %v", err)
			}
		}

		// Upsert keeps the id and replaces the fields.
		reqs[0].Texto = "Publica estrutura organizacional atualizada"
		if err := store.SaveRequisito(ctx, reqs[0]); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		got, err := store.GetRequisito(ctx, 1)
		if err != nil {
			t.Fatalf("GetRequisito failed: %v", err)
		}
		if got.Texto != reqs[0].Texto {
			t.Errorf("expected upserted texto, got %q", got.Texto)
		}

		list, err := store.ListRequisitos(ctx)
		if err != nil {
			t.Fatalf("ListRequisitos failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 requisitos, got %d", len(list))
		}
		if !list[1].Dividida() {
			t.Error("expected second requisito to be split")
		}
	})

	t.Run("SaveAndListSecretarias", func(t *testing.T) {
		sec := &domain.Secretaria{
			Nome:  "Secretaria da Fazenda",
			Sigla: "SEFAZ",
			URL:   "https://www.sefaz.pe.gov.br",
		}
		if err := store.SaveSecretaria(ctx, sec); err != nil {
			t.Fatalf("SaveSecretaria failed: %v", err)
		}
		if sec.ID == 0 {
			t.Fatal("expected assigned id")
		}

		got, err := store.GetSecretaria(ctx, sec.ID)
		if err != nil {
			t.Fatalf("GetSecretaria failed: %v", err)
		}
		if got.Sigla != "SEFAZ" {
			t.Errorf("expected sigla SEFAZ, got %s", got.Sigla)
		}

		list, err := store.ListSecretarias(ctx)
		if err != nil {
			t.Fatalf("ListSecretarias failed: %v", err)
		}
		if len(list) == 0 {
			t.Error("expected at least one secretaria")
		}
	})
}

func TestSQLiteStoreScanSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &domain.ScanSession{
		ID:        "sess-001",
		URLBase:   "https://www.sefaz.pe.gov.br",
		Status:    domain.ScanIniciado,
		CreatedAt: time.Now().UTC(),
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		if err := store.CreateScanSession(ctx, sess); err != nil {
			t.Fatalf("CreateScanSession failed: %v", err)
		}
		got, err := store.GetScanSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetScanSession failed: %v", err)
		}
		if got.Status != domain.ScanIniciado {
			t.Errorf("expected status %s, got %s", domain.ScanIniciado, got.Status)
		}
	})

	t.Run("Update", func(t *testing.T) {
		sess.Status = domain.ScanConcluido
		sess.TotalLinks = 42
		sess.DepthReached = 3
		if err := store.UpdateScanSession(ctx, sess); err != nil {
			t.Fatalf("UpdateScanSession failed: %v", err)
		}
		got, err := store.GetScanSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetScanSession failed: %v", err)
		}
		if got.TotalLinks != 42 || got.Status != domain.ScanConcluido {
			t.Errorf("unexpected session after update: %+v", got)
		}
	})

	t.Run("Links", func(t *testing.T) {
		link := &domain.Link{
			SessionID:    sess.ID,
			URL:          "https://www.sefaz.pe.gov.br/transparencia",
			Origem:       "https://www.sefaz.pe.gov.br",
			Status:       "pendente",
			Profundidade: 1,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreateLink(ctx, link); err != nil {
			t.Fatalf("CreateLink failed: %v", err)
		}

		n, err := store.UpdateLinkByURL(ctx, sess.ID, link.URL, &domain.Link{
			Status:       "ok",
			HTTPCode:     200,
			FinalURL:     link.URL,
			Profundidade: 1,
		})
		if err != nil {
			t.Fatalf("UpdateLinkByURL failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 row updated, got %d", n)
		}

		links, err := store.ListLinks(ctx, sess.ID)
		if err != nil {
			t.Fatalf("ListLinks failed: %v", err)
		}
		if len(links) != 1 {
			t.Fatalf("expected 1 link, got %d", len(links))
		}
		if links[0].HTTPCode != 200 {
			t.Errorf("expected http code 200, got %d", links[0].HTTPCode)
		}
	})

	t.Run("DeleteLinksBefore", func(t *testing.T) {
		old := &domain.Link{
			SessionID: sess.ID,
			URL:       "https://www.sefaz.pe.gov.br/antigo",
			Status:    "ok",
			CreatedAt: time.Now().UTC().Add(-24 * time.Hour),
		}
		if err := store.CreateLink(ctx, old); err != nil {
			t.Fatalf("CreateLink failed: %v", err)
		}

		n, err := store.DeleteLinksBefore(ctx, time.Now().UTC().Add(-12*time.Hour))
		if err != nil {
			t.Fatalf("DeleteLinksBefore failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 stale link removed, got %d", n)
		}
	})

	t.Run("ConcurrentCreateLink", func(t *testing.T) {
		conc := &domain.ScanSession{
			ID:        "sess-conc",
			URLBase:   "https://www.sefaz.pe.gov.br",
			Status:    domain.ScanIniciado,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateScanSession(ctx, conc); err != nil {
			t.Fatalf("CreateScanSession failed: %v", err)
		}

		// The scanner flushes links from several goroutines at once; every
		// insert must succeed with a distinct id.
		const workers = 8
		var wg sync.WaitGroup
		ids := make([]int64, workers)
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				l := &domain.Link{
					SessionID: conc.ID,
					URL:       fmt.Sprintf("https://www.sefaz.pe.gov.br/pagina-%d", i),
					Status:    "pendente",
					CreatedAt: time.Now().UTC(),
				}
				if err := store.CreateLink(ctx, l); err != nil {
					errs[i] = err
					return
				}
				ids[i] = l.ID
			}(i)
		}
		wg.Wait()

		seen := map[int64]bool{}
		for i := 0; i < workers; i++ {
			if errs[i] != nil {
				t.Errorf("CreateLink %d failed: %v", i, errs[i])
				continue
			}
			if seen[ids[i]] {
				t.Errorf("duplicate link id %d", ids[i])
			}
			seen[ids[i]] = true
		}

		links, err := store.ListLinks(ctx, conc.ID)
		if err != nil {
			t.Fatalf("ListLinks failed: %v", err)
		}
		if len(links) != workers {
			t.Errorf("expected %d links, got %d", workers, len(links))
		}
	})

	t.Run("DeleteSessionCascades", func(t *testing.T) {
		if err := store.DeleteScanSession(ctx, sess.ID); err != nil {
			t.Fatalf("DeleteScanSession failed: %v", err)
		}
		links, err := store.ListLinks(ctx, sess.ID)
		if err != nil {
			t.Fatalf("ListLinks failed: %v", err)
		}
		if len(links) != 0 {
			t.Errorf("expected links to cascade, got %d", len(links))
		}
	})
}

func TestConcurrentCreateAvaliacao(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two secretariats submitting at the same moment must both get their own
	// aggregate; a lost id allocation is retried, never surfaced.
	const workers = 4
	var wg sync.WaitGroup
	avs := make([]*domain.Avaliacao, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			av := testAvaliacao(int64(i + 1))
			errs[i] = store.CreateAvaliacao(ctx, av)
			avs[i] = av
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Errorf("CreateAvaliacao %d failed: %v", i, errs[i])
			continue
		}
		if seen[avs[i].ID] {
			t.Errorf("duplicate avaliacao id %d", avs[i].ID)
		}
		seen[avs[i].ID] = true

		got, err := store.GetAvaliacao(ctx, avs[i].ID)
		if err != nil {
			t.Errorf("GetAvaliacao %d failed: %v", avs[i].ID, err)
			continue
		}
		if len(got.Respostas) != 2 {
			t.Errorf("avaliacao %d: expected 2 respostas, got %d", got.ID, len(got.Respostas))
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"Nil", nil, false},
		{"PostgresDuplicateKey", &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}, true},
		{"PostgresOtherCode", &pq.Error{Code: "23503"}, false},
		{"SQLiteConstraint", errors.New("constraint failed: UNIQUE constraint failed: links.id (1555)"), true},
		{"Unrelated", errors.New("no such table: links"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUniqueViolation(tc.err); got != tc.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
