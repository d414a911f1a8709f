// Package crawler manages external link-scanner processes.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opengov-pe/radar/internal/domain"
)

// Runner executes one crawl for a session. It must honor ctx cancellation
// and return once the crawl is finished or interrupted.
type Runner func(ctx context.Context, sess *domain.ScanSession, depth int) error

// Registry tracks running scanner processes by session id. All process
// bookkeeping lives here; nothing else in the portal holds process state.
type Registry struct {
	mu     sync.Mutex
	store  domain.Store
	runner Runner
	cfg    domain.CrawlerConfig
	active map[string]context.CancelFunc
}

// NewRegistry creates a registry backed by the given store and runner.
func NewRegistry(store domain.Store, runner Runner, cfg domain.CrawlerConfig) *Registry {
	return &Registry{
		store:  store,
		runner: runner,
		cfg:    cfg,
		active: make(map[string]context.CancelFunc),
	}
}

// CleanupStartup reconciles state left behind by a previous process: link
// rows past retention are removed and sessions still marked as running are
// closed as interrupted. Called once before the registry accepts work.
func (r *Registry) CleanupStartup(ctx context.Context) error {
	retention := r.cfg.LinkRetention
	if retention <= 0 {
		retention = 12 * time.Hour
	}

	removed, err := r.store.DeleteLinksBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return fmt.Errorf("failed to clean stale links: %w", err)
	}
	if removed > 0 {
		slog.Info("removed stale crawler links", "count", removed)
	}

	sessions, err := r.store.ListScanSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scan sessions: %w", err)
	}
	for _, sess := range sessions {
		if sess.Status != domain.ScanIniciado {
			continue
		}
		sess.Status = domain.ScanInterrompido
		sess.ErrorMessage = "interrupted by restart"
		if err := r.store.UpdateScanSession(ctx, sess); err != nil {
			slog.Warn("failed to close orphaned scan session",
				"session_id", sess.ID,
				"error", err,
			)
		}
	}

	return nil
}

// Start validates the request, records a new session and launches the
// runner. The returned session is already persisted with status iniciado.
func (r *Registry) Start(ctx context.Context, urlBase string, depth int) (*domain.ScanSession, error) {
	urlBase = strings.TrimSpace(urlBase)
	if urlBase == "" {
		return nil, domain.NewValidationError("urlBase is required")
	}
	if !strings.HasPrefix(urlBase, "http://") && !strings.HasPrefix(urlBase, "https://") {
		return nil, domain.NewValidationError("urlBase must be an absolute http(s) URL")
	}
	if depth <= 0 {
		depth = r.cfg.DefaultDepth
	}

	sess := &domain.ScanSession{
		ID:        uuid.New().String(),
		URLBase:   urlBase,
		Status:    domain.ScanIniciado,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateScanSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create scan session: %w", err)
	}

	// Detach from the request context: the crawl outlives the HTTP call.
	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.active[sess.ID] = cancel
	r.mu.Unlock()

	go r.run(runCtx, sess, depth)

	return sess, nil
}

func (r *Registry) run(ctx context.Context, sess *domain.ScanSession, depth int) {
	defer func() {
		r.mu.Lock()
		delete(r.active, sess.ID)
		r.mu.Unlock()
	}()

	err := r.runner(ctx, sess, depth)

	switch {
	case ctx.Err() != nil:
		sess.Status = domain.ScanInterrompido
		sess.ErrorMessage = "interrupted"
	case err != nil:
		sess.Status = domain.ScanErro
		sess.ErrorMessage = err.Error()
		slog.Warn("scan session failed",
			"session_id", sess.ID,
			"url", sess.URLBase,
			"error", err,
		)
	default:
		sess.Status = domain.ScanConcluido
	}

	// Status write uses a fresh context: the run context may be cancelled.
	updateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.UpdateScanSession(updateCtx, sess); err != nil {
		slog.Warn("failed to record scan session result",
			"session_id", sess.ID,
			"error", err,
		)
	}
}

// Stop cancels a running session. Stopping an unknown or already finished
// session returns NotFoundError.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	cancel, ok := r.active[id]
	r.mu.Unlock()

	if !ok {
		return domain.NewNotFoundError("scan session", id)
	}
	cancel()
	return nil
}

// Running reports whether a session is currently active.
func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// ActiveCount returns the number of running sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown cancels every running session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.active {
		cancel()
		delete(r.active, id)
	}
}
