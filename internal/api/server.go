package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opengov-pe/radar/internal/auth"
	"github.com/opengov-pe/radar/internal/crawler"
	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/lifecycle"
	"github.com/opengov-pe/radar/internal/verify"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. Reads are public; mutating routes
// require a valid access token and reviewer routes additionally require the
// central-authority role.
func NewServer(cfg domain.ServerConfig, engine *lifecycle.Engine, store domain.Store, cache domain.Cache, registry *crawler.Registry, checker *verify.Checker, jwtService *auth.JWTService, version string) *Server {
	handler := NewHandler(engine, store, cache, registry, checker, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no auth)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Public reads: published evaluations, reference data, scan results.
	router.Get("/avaliacoes", handler.ListAvaliacoes)
	router.Get("/avaliacoes/{id}", handler.GetAvaliacao)
	router.Get("/avaliacoes/{id}/prazo-recurso", handler.GetPrazoRecurso)
	router.Get("/requisitos", handler.ListRequisitos)
	router.Get("/secretarias", handler.ListSecretarias)
	router.Get("/varreduras", handler.ListScans)
	router.Get("/varreduras/{id}", handler.GetScan)
	router.Get("/links", handler.ListLinks)

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtService))

		// Secretariat side of the lifecycle
		r.Post("/avaliacoes", handler.SubmitAvaliacao)
		r.Post("/avaliacoes/{id}/recurso", handler.SubmitRecurso)

		// Reviewer side
		r.Group(func(r chi.Router) {
			r.Use(RequireSCGE)

			r.Delete("/avaliacoes/{id}", handler.DeleteAvaliacao)
			r.Patch("/respostas/{id}/validacao", handler.RecordReview)
			r.Patch("/respostas/{id}/analise-final", handler.RecordFinalReview)
			r.Post("/avaliacoes/{id}/devolver", handler.DevolveAvaliacao)
			r.Post("/avaliacoes/{id}/finalizar", handler.FinalizeAvaliacao)

			// Pre-validation and crawler control
			r.Post("/pre-validar", handler.PreValidate)
			r.Post("/varreduras", handler.StartScan)
			r.Post("/varreduras/{id}/parar", handler.StopScan)
			r.Delete("/varreduras/{id}", handler.DeleteScan)
			r.Post("/links", handler.CreateLink)
			r.Patch("/links/by-url", handler.UpdateLinkByURL)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
