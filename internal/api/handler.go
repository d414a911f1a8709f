package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opengov-pe/radar/internal/auth"
	"github.com/opengov-pe/radar/internal/crawler"
	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/lifecycle"
	"github.com/opengov-pe/radar/internal/verify"
)

// refDataTTL bounds how long checklist and secretariat lists are cached.
const refDataTTL = 10 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *lifecycle.Engine
	store    domain.Store
	cache    domain.Cache
	registry *crawler.Registry
	checker  *verify.Checker
	version  string
}

// NewHandler creates a new API handler. cache, registry and checker may be
// nil; the endpoints that need them then degrade or return 503.
func NewHandler(engine *lifecycle.Engine, store domain.Store, cache domain.Cache, registry *crawler.Registry, checker *verify.Checker, version string) *Handler {
	return &Handler{
		engine:   engine,
		store:    store,
		cache:    cache,
		registry: registry,
		checker:  checker,
		version:  version,
	}
}

// SubmitRequest is the request body for POST /avaliacoes.
type SubmitRequest struct {
	SecretariaID     int64                 `json:"secretariaId"`
	URLSecretaria    string                `json:"urlSecretaria"`
	NomeResponsavel  string                `json:"nomeResponsavel"`
	EmailResponsavel string                `json:"emailResponsavel"`
	Respostas        []SubmitRespostaInput `json:"respostas"`
}

// SubmitRespostaInput is one self-declared answer in a submission.
type SubmitRespostaInput struct {
	RequisitoID     int64  `json:"requisitoId"`
	Atende          bool   `json:"atende"`
	LinkComprovante string `json:"linkComprovante,omitempty"`
}

// SubmitAvaliacao handles POST /avaliacoes.
func (h *Handler) SubmitAvaliacao(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Secretariat callers submit for themselves only.
	claims := GetClaims(ctx)
	if claims != nil && claims.Role == auth.RoleSecretaria && claims.SecretariaID != req.SecretariaID {
		writeError(w, &domain.AuthorizationError{})
		return
	}

	in := lifecycle.SubmitInput{
		SecretariaID:     req.SecretariaID,
		URLSecretaria:    req.URLSecretaria,
		NomeResponsavel:  req.NomeResponsavel,
		EmailResponsavel: req.EmailResponsavel,
	}
	for _, resp := range req.Respostas {
		in.Respostas = append(in.Respostas, lifecycle.SubmitResposta{
			RequisitoID:     resp.RequisitoID,
			Atende:          resp.Atende,
			LinkComprovante: resp.LinkComprovante,
		})
	}

	av, err := h.engine.SubmitEvaluation(ctx, in)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, av)
}

// ListAvaliacoes handles GET /avaliacoes.
func (h *Handler) ListAvaliacoes(w http.ResponseWriter, r *http.Request) {
	avs, err := h.engine.ListAvaliacoes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"avaliacoes": avs,
		"count":      len(avs),
	})
}

// GetAvaliacao handles GET /avaliacoes/{id}.
func (h *Handler) GetAvaliacao(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	av, err := h.engine.GetAvaliacao(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// DeleteAvaliacao handles DELETE /avaliacoes/{id}. Out-of-band removal, not
// a lifecycle transition.
func (h *Handler) DeleteAvaliacao(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.engine.DeleteAvaliacao(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReviewRequest is the request body for PATCH /respostas/{id}/validacao.
type ReviewRequest struct {
	StatusValidacao          domain.Verdict `json:"statusValidacao"`
	StatusValidacaoHistorico domain.Verdict `json:"statusValidacaoHistorico,omitempty"`
	ComentarioAdmin          string         `json:"comentarioAdmin,omitempty"`
}

// RecordReview handles PATCH /respostas/{id}/validacao.
func (h *Handler) RecordReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.engine.RecordReview(r.Context(), id, lifecycle.ReviewInput{
		Verdict:          req.StatusValidacao,
		VerdictHistorico: req.StatusValidacaoHistorico,
		Comentario:       req.ComentarioAdmin,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// FinalReviewRequest is the request body for PATCH /respostas/{id}/analise-final.
type FinalReviewRequest struct {
	AnaliseFinal          domain.Verdict `json:"analiseFinal"`
	AnaliseFinalHistorico domain.Verdict `json:"analiseFinalHistorico,omitempty"`
	StatusRecurso         string         `json:"statusRecurso,omitempty"`
	Comentario            string         `json:"comentario,omitempty"`
	Atende                *bool          `json:"atende,omitempty"`
}

// RecordFinalReview handles PATCH /respostas/{id}/analise-final.
func (h *Handler) RecordFinalReview(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req FinalReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.engine.RecordFinalReview(r.Context(), id, lifecycle.FinalReviewInput{
		Analise:          req.AnaliseFinal,
		AnaliseHistorico: req.AnaliseFinalHistorico,
		StatusRecurso:    req.StatusRecurso,
		Comentario:       req.Comentario,
		Atende:           req.Atende,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DevolveAvaliacao handles POST /avaliacoes/{id}/devolver.
func (h *Handler) DevolveAvaliacao(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	av, err := h.engine.DevolveForAppeal(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// AppealRequest is the request body for POST /avaliacoes/{id}/recurso.
type AppealRequest struct {
	Itens []AppealItemInput `json:"itens"`
}

// AppealItemInput is one contested response in an appeal.
type AppealItemInput struct {
	RespostaID    int64    `json:"respostaId"`
	RecursoAtende *bool    `json:"recursoAtende,omitempty"`
	Comentario    string   `json:"comentario,omitempty"`
	Evidencias    []string `json:"evidencias,omitempty"`
}

// SubmitRecurso handles POST /avaliacoes/{id}/recurso. The caller's
// secretariat comes from the access token, never from the body.
func (h *Handler) SubmitRecurso(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req AppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	claims := GetClaims(r.Context())
	if claims == nil {
		writeError(w, &domain.AuthorizationError{})
		return
	}

	items := make([]lifecycle.AppealItem, 0, len(req.Itens))
	for _, item := range req.Itens {
		items = append(items, lifecycle.AppealItem{
			RespostaID:    item.RespostaID,
			RecursoAtende: item.RecursoAtende,
			Comentario:    item.Comentario,
			Evidencias:    item.Evidencias,
		})
	}

	av, err := h.engine.SubmitAppeal(r.Context(), id, claims.SecretariaID, items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// FinalizeAvaliacao handles POST /avaliacoes/{id}/finalizar.
func (h *Handler) FinalizeAvaliacao(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	av, err := h.engine.Finalize(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

// GetPrazoRecurso handles GET /avaliacoes/{id}/prazo-recurso.
func (h *Handler) GetPrazoRecurso(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	info, err := h.engine.CheckAppealDeadline(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListRequisitos handles GET /requisitos. The checklist changes rarely, so
// the serialized list is served from cache.
func (h *Handler) ListRequisitos(w http.ResponseWriter, r *http.Request) {
	h.cachedList(w, r, domain.CacheKeyRequisitos, func() (any, error) {
		reqs, err := h.store.ListRequisitos(r.Context())
		if err != nil {
			return nil, err
		}
		return map[string]any{"requisitos": reqs, "count": len(reqs)}, nil
	})
}

// ListSecretarias handles GET /secretarias.
func (h *Handler) ListSecretarias(w http.ResponseWriter, r *http.Request) {
	h.cachedList(w, r, domain.CacheKeySecretarias, func() (any, error) {
		secs, err := h.store.ListSecretarias(r.Context())
		if err != nil {
			return nil, err
		}
		return map[string]any{"secretarias": secs, "count": len(secs)}, nil
	})
}

func (h *Handler) cachedList(w http.ResponseWriter, r *http.Request, key string, load func() (any, error)) {
	ctx := r.Context()

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	payload, err := load()
	if err != nil {
		writeError(w, err)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, data, refDataTTL); err != nil {
			slog.Warn("failed to cache reference data", "key", key, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PreValidateRequest is the request body for POST /pre-validar.
type PreValidateRequest struct {
	SessaoID string `json:"sessaoId"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// PreValidate handles POST /pre-validar: it evaluates every compiled
// checklist check against the links of one scan session. Findings are
// advisory and never change a verdict.
func (h *Handler) PreValidate(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "pre-validation not available",
		})
		return
	}

	var req PreValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SessaoID == "" {
		writeError(w, domain.NewValidationError("sessaoId is required"))
		return
	}

	ctx := r.Context()
	sess, err := h.store.GetScanSession(ctx, req.SessaoID)
	if err != nil {
		writeError(w, err)
		return
	}

	links, err := h.store.ListLinks(ctx, sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	baseURL := req.BaseURL
	if baseURL == "" {
		baseURL = sess.URLBase
	}

	findings, err := h.checker.CheckAll(ctx, baseURL, links)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessaoId": sess.ID,
		"findings": findings,
		"count":    len(findings),
	})
}

// StartScanRequest is the request body for POST /varreduras.
type StartScanRequest struct {
	URLBase      string `json:"urlBase"`
	Profundidade int    `json:"profundidade,omitempty"`
}

// StartScan handles POST /varreduras.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "crawler not available",
		})
		return
	}

	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	sess, err := h.registry.Start(r.Context(), req.URLBase, req.Profundidade)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// StopScan handles POST /varreduras/{id}/parar.
func (h *Handler) StopScan(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "crawler not available",
		})
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.registry.Stop(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"sessaoId": id,
		"status":   domain.ScanInterrompido,
	})
}

// ListScans handles GET /varreduras.
func (h *Handler) ListScans(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListScanSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"varreduras": sessions,
		"count":      len(sessions),
	})
}

// GetScan handles GET /varreduras/{id}.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.store.GetScanSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	running := h.registry != nil && h.registry.Running(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessao":  sess,
		"running": running,
	})
}

// DeleteScan handles DELETE /varreduras/{id}. Running sessions must be
// stopped first.
func (h *Handler) DeleteScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.registry != nil && h.registry.Running(id) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "session is running; stop it first",
		})
		return
	}

	if err := h.store.DeleteScanSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLinks handles GET /links?sessao={id}.
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessao")
	if sessionID == "" {
		writeError(w, domain.NewValidationError("sessao query parameter is required"))
		return
	}

	links, err := h.store.ListLinks(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"links": links,
		"count": len(links),
	})
}

// CreateLink handles POST /links: the external scanner reports each URL it
// finds through this endpoint.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var link domain.Link
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if link.SessionID == "" || link.URL == "" {
		writeError(w, domain.NewValidationError("sessionId and url are required"))
		return
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	if err := h.store.CreateLink(r.Context(), &link); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// UpdateLinkRequest is the request body for PATCH /links/by-url.
type UpdateLinkRequest struct {
	SessionID string      `json:"sessionId"`
	URL       string      `json:"url"`
	Link      domain.Link `json:"link"`
}

// UpdateLinkByURL handles PATCH /links/by-url: the scanner updates probe
// results keyed by (session, url) because it has no row id.
func (h *Handler) UpdateLinkByURL(w http.ResponseWriter, r *http.Request) {
	var req UpdateLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SessionID == "" || req.URL == "" {
		writeError(w, domain.NewValidationError("sessionId and url are required"))
		return
	}

	n, err := h.store.UpdateLinkByURL(r.Context(), req.SessionID, req.URL, &req.Link)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, domain.NewNotFoundError("link", req.URL))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": param + " must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case domain.IsAuthorization(err):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case domain.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case domain.IsState(err):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
