package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opengov-pe/radar/internal/domain"
)

var tracer = otel.Tracer("radar-lifecycle")

// Engine owns the lifecycle of evaluation submissions: it enforces legal
// state transitions, recomputes score snapshots at every mutation, and
// publishes events after each commit. All writes go through the store's
// atomic per-evaluation update, so two concurrent transitions on the same
// evaluation serialize there.
type Engine struct {
	store  domain.Store
	bus    domain.EventBus
	cache  domain.Cache
	policy domain.PolicyConfig
	now    func() time.Time
}

// NewEngine creates a lifecycle engine. bus and cache may be nil; events and
// read caching are then skipped.
func NewEngine(store domain.Store, bus domain.EventBus, cache domain.Cache, policy domain.PolicyConfig) *Engine {
	if policy.AppealWindow <= 0 {
		policy.AppealWindow = 10 * 24 * time.Hour
	}
	return &Engine{
		store:  store,
		bus:    bus,
		cache:  cache,
		policy: policy,
		now:    time.Now,
	}
}

// SubmitInput is a complete self-assessment submission.
type SubmitInput struct {
	SecretariaID     int64
	URLSecretaria    string
	NomeResponsavel  string
	EmailResponsavel string
	Respostas        []SubmitResposta
}

// SubmitResposta is one requirement's self-declared answer.
type SubmitResposta struct {
	RequisitoID     int64
	Atende          bool
	LinkComprovante string
}

// SubmitEvaluation creates an evaluation and its responses in one atomic
// unit. The answer set must cover the whole checklist; partial submissions
// are rejected before any write.
func (e *Engine) SubmitEvaluation(ctx context.Context, in SubmitInput) (*domain.Avaliacao, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.submit",
		trace.WithAttributes(attribute.Int64("secretaria.id", in.SecretariaID)))
	defer span.End()

	if in.SecretariaID == 0 {
		return nil, domain.NewValidationError("secretariaId is required")
	}
	if strings.TrimSpace(in.URLSecretaria) == "" {
		return nil, domain.NewValidationError("urlSecretaria is required")
	}
	if strings.TrimSpace(in.NomeResponsavel) == "" || strings.TrimSpace(in.EmailResponsavel) == "" {
		return nil, domain.NewValidationError("nomeResponsavel and emailResponsavel are required")
	}
	if len(in.Respostas) == 0 {
		return nil, domain.NewValidationError("at least one resposta is required")
	}

	if _, err := e.store.GetSecretaria(ctx, in.SecretariaID); err != nil {
		return nil, err
	}

	requisitos, err := e.requisitoMap(ctx)
	if err != nil {
		return nil, err
	}

	answered := make(map[int64]bool, len(in.Respostas))
	for _, r := range in.Respostas {
		if _, ok := requisitos[r.RequisitoID]; !ok {
			return nil, domain.NewValidationError("unknown requisito %d", r.RequisitoID)
		}
		if answered[r.RequisitoID] {
			return nil, domain.NewValidationError("duplicate resposta for requisito %d", r.RequisitoID)
		}
		answered[r.RequisitoID] = true
	}
	for id := range requisitos {
		if !answered[id] {
			return nil, domain.NewValidationError("requisito %d has no resposta; the checklist must be answered completely", id)
		}
	}

	now := e.now().UTC()
	av := &domain.Avaliacao{
		SecretariaID:     in.SecretariaID,
		CicloAno:         e.policy.CicloAno,
		URLSecretaria:    in.URLSecretaria,
		NomeResponsavel:  in.NomeResponsavel,
		EmailResponsavel: in.EmailResponsavel,
		Status:           domain.StatusEmAnaliseSCGE,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, r := range in.Respostas {
		resp := &domain.Resposta{
			RequisitoID:    r.RequisitoID,
			Atende:         r.Atende,
			AtendeOriginal: r.Atende,
		}
		if r.LinkComprovante != "" {
			resp.Evidencias = append(resp.Evidencias, &domain.Evidencia{
				URL:       r.LinkComprovante,
				Tipo:      domain.EvidenciaOriginal,
				CreatedAt: now,
			})
		}
		av.Respostas = append(av.Respostas, resp)
	}

	if err := e.applyScores(av, requisitos); err != nil {
		return nil, err
	}

	if err := e.store.CreateAvaliacao(ctx, av); err != nil {
		return nil, err
	}

	e.publish(ctx, domain.TopicAvaliacaoRecebida, av)
	return av, nil
}

// ReviewInput is a first-pass reviewer verdict on one response.
type ReviewInput struct {
	Verdict          domain.Verdict
	VerdictHistorico domain.Verdict
	Comentario       string
}

// RecordReview records a first-review verdict. Idempotent and allowed only
// while the evaluation is under first review; no state change occurs.
func (e *Engine) RecordReview(ctx context.Context, respostaID int64, in ReviewInput) (*domain.Resposta, error) {
	if err := validVerdict(in.Verdict); err != nil {
		return nil, err
	}
	if err := validVerdict(in.VerdictHistorico); err != nil {
		return nil, err
	}

	avID, err := e.store.AvaliacaoIDByResposta(ctx, respostaID)
	if err != nil {
		return nil, err
	}

	av, err := e.update(ctx, avID, func(av *domain.Avaliacao) error {
		if av.Status != domain.StatusEmAnaliseSCGE {
			return domain.NewStateError("record review", av.Status, domain.StatusEmAnaliseSCGE)
		}
		resp := respostaByID(av, respostaID)
		if resp == nil {
			return domain.NewNotFoundError("resposta", respostaID)
		}
		resp.StatusValidacao = in.Verdict
		resp.StatusValidacaoHistorico = in.VerdictHistorico
		resp.ComentarioAdmin = in.Comentario
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respostaByID(av, respostaID), nil
}

// DevolveForAppeal returns the evaluation to the secretariat and opens the
// appeal window.
func (e *Engine) DevolveForAppeal(ctx context.Context, id int64) (*domain.Avaliacao, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.devolve",
		trace.WithAttributes(attribute.Int64("avaliacao.id", id)))
	defer span.End()

	av, err := e.update(ctx, id, func(av *domain.Avaliacao) error {
		if av.Status != domain.StatusEmAnaliseSCGE {
			return domain.NewStateError("devolve", av.Status, domain.StatusEmAnaliseSCGE)
		}
		prazo := e.now().UTC().Add(e.policy.AppealWindow)
		av.PrazoRecurso = &prazo
		av.RecursoExpirado = false
		av.Status = domain.StatusAguardandoRecurso
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.TopicAvaliacaoDevolvida, av)
	return av, nil
}

// AppealItem is the submitter's contestation of one response.
type AppealItem struct {
	RespostaID    int64
	RecursoAtende *bool
	Comentario    string
	Evidencias    []string
}

// SubmitAppeal records an appeal for the owning secretariat. The update is
// all-or-nothing across every item: one bad response id rejects the whole
// appeal. Submission races with the expiry sweep; whichever acquires the
// row first wins and the loser fails the state guard.
func (e *Engine) SubmitAppeal(ctx context.Context, id, callerSecretariaID int64, items []AppealItem) (*domain.Avaliacao, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.recurso",
		trace.WithAttributes(attribute.Int64("avaliacao.id", id)))
	defer span.End()

	if len(items) == 0 {
		return nil, domain.NewValidationError("at least one appeal item is required")
	}

	now := e.now().UTC()
	av, err := e.update(ctx, id, func(av *domain.Avaliacao) error {
		if av.SecretariaID != callerSecretariaID {
			return &domain.AuthorizationError{}
		}
		if av.Status != domain.StatusAguardandoRecurso {
			return domain.NewStateError("submit appeal", av.Status, domain.StatusAguardandoRecurso)
		}
		if av.PrazoRecurso == nil || now.After(*av.PrazoRecurso) {
			return domain.NewStateError("submit appeal after deadline", av.Status, domain.StatusAguardandoRecurso)
		}

		for _, item := range items {
			resp := respostaByID(av, item.RespostaID)
			if resp == nil {
				return domain.NewNotFoundError("resposta", item.RespostaID)
			}
			resp.RecursoAtende = item.RecursoAtende
			resp.ComentarioRecurso = item.Comentario
			resp.StatusRecurso = domain.RecursoPendente

			// Appeal evidence replaces any previous appeal evidence; the
			// original set stays untouched.
			kept := resp.Evidencias[:0]
			for _, ev := range resp.Evidencias {
				if ev.Tipo != domain.EvidenciaRecurso {
					kept = append(kept, ev)
				}
			}
			resp.Evidencias = kept
			for _, url := range item.Evidencias {
				resp.Evidencias = append(resp.Evidencias, &domain.Evidencia{
					RespostaID: resp.ID,
					URL:        url,
					Tipo:       domain.EvidenciaRecurso,
					CreatedAt:  now,
				})
			}
		}

		av.Status = domain.StatusEmAnaliseDeRecurso
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.TopicRecursoRecebido, av)
	return av, nil
}

// SweepExpiredAppeals expires every evaluation whose appeal window closed
// without an appeal. Runs headless: a lost race against SubmitAppeal is a
// silent no-op, and one failing evaluation never stops the sweep.
func (e *Engine) SweepExpiredAppeals(ctx context.Context, now time.Time) ([]*domain.Avaliacao, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.sweep")
	defer span.End()

	ids, err := e.store.ListAguardandoRecurso(ctx, now)
	if err != nil {
		return nil, err
	}

	var expired []*domain.Avaliacao
	for _, id := range ids {
		av, err := e.update(ctx, id, func(av *domain.Avaliacao) error {
			if av.Status != domain.StatusAguardandoRecurso || av.RecursoExpirado {
				return domain.NewStateError("expire appeal", av.Status, domain.StatusAguardandoRecurso)
			}
			if av.PrazoRecurso == nil || !now.After(*av.PrazoRecurso) {
				return domain.NewStateError("expire appeal before deadline", av.Status, domain.StatusAguardandoRecurso)
			}
			av.RecursoExpirado = true
			av.Status = domain.StatusEmAnaliseDeRecurso
			return nil
		})
		if err != nil {
			if domain.IsState(err) {
				// An appeal landed first; nothing to do.
				slog.Debug("sweep skipped evaluation", "avaliacao_id", id)
				continue
			}
			slog.Warn("sweep failed for evaluation",
				"avaliacao_id", id,
				"error", err,
			)
			continue
		}
		e.publish(ctx, domain.TopicRecursoExpirado, av)
		expired = append(expired, av)
	}

	return expired, nil
}

// FinalReviewInput is a reviewer's final verdict on one response.
type FinalReviewInput struct {
	Analise          domain.Verdict
	AnaliseHistorico domain.Verdict
	StatusRecurso    string
	Comentario       string
	Atende           *bool
}

// RecordFinalReview records the final-review verdict for one response while
// the evaluation is under appeal analysis.
func (e *Engine) RecordFinalReview(ctx context.Context, respostaID int64, in FinalReviewInput) (*domain.Resposta, error) {
	if err := validVerdict(in.Analise); err != nil {
		return nil, err
	}
	if err := validVerdict(in.AnaliseHistorico); err != nil {
		return nil, err
	}
	switch in.StatusRecurso {
	case "", domain.RecursoPendente, domain.RecursoDeferido, domain.RecursoIndeferido:
	default:
		return nil, domain.NewValidationError("invalid statusRecurso %q", in.StatusRecurso)
	}

	avID, err := e.store.AvaliacaoIDByResposta(ctx, respostaID)
	if err != nil {
		return nil, err
	}

	av, err := e.update(ctx, avID, func(av *domain.Avaliacao) error {
		if av.Status != domain.StatusEmAnaliseDeRecurso {
			return domain.NewStateError("record final review", av.Status, domain.StatusEmAnaliseDeRecurso)
		}
		resp := respostaByID(av, respostaID)
		if resp == nil {
			return domain.NewNotFoundError("resposta", respostaID)
		}
		resp.AnaliseFinal = in.Analise
		resp.AnaliseFinalHistorico = in.AnaliseHistorico
		if in.StatusRecurso != "" {
			resp.StatusRecurso = in.StatusRecurso
		}
		if in.Comentario != "" {
			resp.ComentarioRecurso = in.Comentario
		}
		if in.Atende != nil {
			resp.Atende = *in.Atende
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respostaByID(av, respostaID), nil
}

// Finalize computes and stores all four score snapshots and closes the
// evaluation permanently. Any later mutation attempt fails the state guard.
func (e *Engine) Finalize(ctx context.Context, id int64) (*domain.Avaliacao, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.finalize",
		trace.WithAttributes(attribute.Int64("avaliacao.id", id)))
	defer span.End()

	av, err := e.update(ctx, id, func(av *domain.Avaliacao) error {
		if av.Status != domain.StatusEmAnaliseDeRecurso {
			return domain.NewStateError("finalize", av.Status, domain.StatusEmAnaliseDeRecurso)
		}
		av.Status = domain.StatusFinalizada
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.cacheSet(ctx, av)
	e.publish(ctx, domain.TopicAvaliacaoFinalizada, av)
	return av, nil
}

// CheckAppealDeadline reports whether the appeal window for an evaluation is
// still open and how long remains.
func (e *Engine) CheckAppealDeadline(ctx context.Context, id int64, now time.Time) (domain.DeadlineInfo, error) {
	av, err := e.store.GetAvaliacao(ctx, id)
	if err != nil {
		return domain.DeadlineInfo{}, err
	}
	if av.Status != domain.StatusAguardandoRecurso || av.PrazoRecurso == nil {
		return domain.DeadlineInfo{}, nil
	}
	remaining := av.PrazoRecurso.Sub(now)
	if remaining <= 0 {
		return domain.DeadlineInfo{}, nil
	}
	return domain.DeadlineInfo{
		WithinWindow:     true,
		SecondsRemaining: int64(remaining.Seconds()),
	}, nil
}

// GetAvaliacao reads an evaluation, serving finalized ones from cache when
// possible. Published scores never change, so they cache indefinitely.
func (e *Engine) GetAvaliacao(ctx context.Context, id int64) (*domain.Avaliacao, error) {
	if e.cache != nil {
		if data, err := e.cache.Get(ctx, domain.CacheKeyAvaliacao(id)); err == nil && data != nil {
			var av domain.Avaliacao
			if err := json.Unmarshal(data, &av); err == nil {
				return &av, nil
			}
		}
	}

	av, err := e.store.GetAvaliacao(ctx, id)
	if err != nil {
		return nil, err
	}
	if av.Status == domain.StatusFinalizada {
		e.cacheSet(ctx, av)
	}
	return av, nil
}

// ListAvaliacoes lists all evaluations, newest first.
func (e *Engine) ListAvaliacoes(ctx context.Context) ([]*domain.Avaliacao, error) {
	return e.store.ListAvaliacoes(ctx)
}

// DeleteAvaliacao is the out-of-band admin removal; it is not a lifecycle
// transition and cascades to responses and evidence.
func (e *Engine) DeleteAvaliacao(ctx context.Context, id int64) error {
	if err := e.store.DeleteAvaliacao(ctx, id); err != nil {
		return err
	}
	if e.cache != nil {
		if err := e.cache.Delete(ctx, domain.CacheKeyAvaliacao(id)); err != nil {
			slog.Warn("failed to evict cached evaluation", "avaliacao_id", id, "error", err)
		}
	}
	return nil
}

// update wraps the store's atomic update and recomputes the score snapshots
// after fn mutated the aggregate, so derived scores stay consistent after
// every transition.
func (e *Engine) update(ctx context.Context, id int64, fn func(av *domain.Avaliacao) error) (*domain.Avaliacao, error) {
	requisitos, err := e.requisitoMap(ctx)
	if err != nil {
		return nil, err
	}
	return e.store.UpdateAvaliacao(ctx, id, func(av *domain.Avaliacao) error {
		if err := fn(av); err != nil {
			return err
		}
		av.UpdatedAt = e.now().UTC()
		return e.applyScores(av, requisitos)
	})
}

func (e *Engine) applyScores(av *domain.Avaliacao, requisitos map[int64]*domain.Requisito) error {
	placar, err := ComputeScores(av.Respostas, requisitos)
	if err != nil {
		return err
	}
	av.PontuacaoAutoavaliacao = placar.Autoavaliacao
	av.PontuacaoPrimeiraAnalise = placar.PrimeiraAnalise
	av.PontuacaoPosRecurso = placar.PosRecurso
	av.PontuacaoFinal = placar.Final
	av.PontuacaoTotal = placar.Total
	return nil
}

func (e *Engine) requisitoMap(ctx context.Context) (map[int64]*domain.Requisito, error) {
	reqs, err := e.store.ListRequisitos(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[int64]*domain.Requisito, len(reqs))
	for _, r := range reqs {
		m[r.ID] = r
	}
	return m, nil
}

// publish emits a lifecycle event after a committed transition. Publication
// failure never rolls the transition back; it is logged and dropped.
func (e *Engine) publish(ctx context.Context, topic string, av *domain.Avaliacao) {
	if e.bus == nil {
		return
	}
	event := domain.LifecycleEvent{
		AvaliacaoID:      av.ID,
		SecretariaID:     av.SecretariaID,
		Status:           av.Status,
		NomeResponsavel:  av.NomeResponsavel,
		EmailResponsavel: av.EmailResponsavel,
		PontuacaoFinal:   av.PontuacaoFinal,
		PontuacaoTotal:   av.PontuacaoTotal,
	}
	if av.PrazoRecurso != nil {
		event.PrazoRecurso = av.PrazoRecurso.Format(timeLayout)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to encode lifecycle event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish lifecycle event",
			"topic", topic,
			"avaliacao_id", av.ID,
			"error", err,
		)
	}
}

func (e *Engine) cacheSet(ctx context.Context, av *domain.Avaliacao) {
	if e.cache == nil {
		return
	}
	data, err := json.Marshal(av)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, domain.CacheKeyAvaliacao(av.ID), data, 24*time.Hour); err != nil {
		slog.Warn("failed to cache evaluation", "avaliacao_id", av.ID, "error", err)
	}
}

const timeLayout = time.RFC3339

func respostaByID(av *domain.Avaliacao, respostaID int64) *domain.Resposta {
	for _, r := range av.Respostas {
		if r.ID == respostaID {
			return r
		}
	}
	return nil
}

func validVerdict(v domain.Verdict) error {
	switch v {
	case domain.VerdictNone, domain.VerdictAprovado, domain.VerdictReprovado:
		return nil
	default:
		return domain.NewValidationError("invalid verdict %q", string(v))
	}
}
