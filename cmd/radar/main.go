// Radar - transparency-compliance portal for state secretariats.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opengov-pe/radar/internal/api"
	"github.com/opengov-pe/radar/internal/auth"
	"github.com/opengov-pe/radar/internal/bus"
	"github.com/opengov-pe/radar/internal/cache"
	"github.com/opengov-pe/radar/internal/crawler"
	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/lifecycle"
	"github.com/opengov-pe/radar/internal/notify"
	"github.com/opengov-pe/radar/internal/repository"
	"github.com/opengov-pe/radar/internal/verify"
	"github.com/opengov-pe/radar/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A .env file is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := domain.FromEnv()

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting radar",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"mailer", cfg.Mailer.Type,
		"ciclo", cfg.Policy.CicloAno,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	mailer, err := notify.New(cfg.Mailer)
	if err != nil {
		slog.Error("failed to initialize mailer", "error", err)
		os.Exit(1)
	}

	if cfg.Server.JWTSigningKey == "" {
		slog.Warn("RADAR_JWT_KEY not set; using an insecure development key")
		cfg.Server.JWTSigningKey = "radar-dev-key"
	}
	jwtService := auth.NewJWTService(cfg.Server.JWTSigningKey, "radar")

	engine := lifecycle.NewEngine(store, busImpl, cacheImpl, cfg.Policy)
	slog.Info("lifecycle engine initialized",
		"appeal_window", cfg.Policy.AppealWindow,
		"ciclo", cfg.Policy.CicloAno,
	)

	checker, err := verify.NewChecker(10)
	if err != nil {
		slog.Error("failed to initialize pre-validation checker", "error", err)
		os.Exit(1)
	}
	if err := loadChecklist(ctx, store, checker); err != nil {
		slog.Error("failed to load checklist", "error", err)
		os.Exit(1)
	}

	registry := crawler.NewRegistry(store, crawler.ExecRunner(cfg.Crawler), cfg.Crawler)
	if err := registry.CleanupStartup(ctx); err != nil {
		slog.Warn("crawler startup cleanup failed", "error", err)
	}
	slog.Info("crawler registry initialized", "command", cfg.Crawler.Command)

	sweeper := worker.NewSweeper(engine, cfg.Policy.SweepInterval)
	sweeper.Start()

	dispatcher := worker.NewMailDispatcher(busImpl, mailer)
	if err := dispatcher.Start(); err != nil {
		slog.Error("failed to start mail dispatcher", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, engine, store, cacheImpl, registry, checker, jwtService, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("radar is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	sweeper.Stop()
	dispatcher.Stop()
	registry.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("radar shutdown complete")
}

// loadChecklist compiles the pre-validation checks for every requirement
// that declares a fixed link or keyword. An empty checklist is fine; seed it
// with cmd/seed.
func loadChecklist(ctx context.Context, store domain.Store, checker *verify.Checker) error {
	requisitos, err := store.ListRequisitos(ctx)
	if err != nil {
		return err
	}
	if len(requisitos) == 0 {
		slog.Info("no requisitos in database - seed the checklist with cmd/seed")
		return nil
	}
	if err := checker.LoadChecklist(requisitos); err != nil {
		return err
	}
	slog.Info("checklist loaded", "requisitos", len(requisitos))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  RADAR - Transparency Compliance Portal")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Ciclo:    %d\n", cfg.Policy.CicloAno)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /avaliacoes                     - Submit a self-assessment")
	fmt.Println("    GET   /avaliacoes                     - List evaluations")
	fmt.Println("    GET   /avaliacoes/{id}                - Get evaluation by ID")
	fmt.Println("    PATCH /respostas/{id}/validacao       - Record first-review verdict")
	fmt.Println("    POST  /avaliacoes/{id}/devolver       - Open the appeal window")
	fmt.Println("    POST  /avaliacoes/{id}/recurso        - Submit an appeal")
	fmt.Println("    PATCH /respostas/{id}/analise-final   - Record final-review verdict")
	fmt.Println("    POST  /avaliacoes/{id}/finalizar      - Publish final scores")
	fmt.Println("    GET   /avaliacoes/{id}/prazo-recurso  - Appeal deadline status")
	fmt.Println("    GET   /requisitos                     - Checklist")
	fmt.Println("    GET   /secretarias                    - Secretariats")
	fmt.Println("    POST  /varreduras                     - Start a site scan")
	fmt.Println("    POST  /pre-validar                    - Check answers against scan")
	fmt.Println("    GET   /health                         - Health check")
	fmt.Println()
}
