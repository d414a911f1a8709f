// Package domain defines the core interfaces and types for the portal.
package domain

import (
	"context"
	"time"
)

// Store defines the interface for data persistence. The evaluation aggregate
// (Avaliacao + Respostas + Evidencias) is always read and written as a unit;
// UpdateAvaliacao is the single atomic read-modify-write primitive every
// lifecycle transition goes through.
type Store interface {
	// Evaluation aggregate operations
	CreateAvaliacao(ctx context.Context, av *Avaliacao) error
	GetAvaliacao(ctx context.Context, id int64) (*Avaliacao, error)
	ListAvaliacoes(ctx context.Context) ([]*Avaliacao, error)
	DeleteAvaliacao(ctx context.Context, id int64) error

	// UpdateAvaliacao loads the aggregate inside a transaction, applies fn,
	// and writes the result back before committing. Two concurrent updates
	// of the same evaluation are serialized by the store; fn returning an
	// error rolls everything back and surfaces that error unchanged.
	UpdateAvaliacao(ctx context.Context, id int64, fn func(av *Avaliacao) error) (*Avaliacao, error)

	// AvaliacaoIDByResposta resolves the owning evaluation of a response.
	AvaliacaoIDByResposta(ctx context.Context, respostaID int64) (int64, error)

	// ListAguardandoRecurso returns ids of evaluations whose appeal window
	// closed before the given instant and were not yet expired.
	ListAguardandoRecurso(ctx context.Context, before time.Time) ([]int64, error)

	// Checklist reference data
	SaveRequisito(ctx context.Context, req *Requisito) error
	GetRequisito(ctx context.Context, id int64) (*Requisito, error)
	ListRequisitos(ctx context.Context) ([]*Requisito, error)

	// Secretariats
	SaveSecretaria(ctx context.Context, sec *Secretaria) error
	GetSecretaria(ctx context.Context, id int64) (*Secretaria, error)
	ListSecretarias(ctx context.Context) ([]*Secretaria, error)

	// Crawler sessions
	CreateScanSession(ctx context.Context, s *ScanSession) error
	GetScanSession(ctx context.Context, id string) (*ScanSession, error)
	ListScanSessions(ctx context.Context) ([]*ScanSession, error)
	UpdateScanSession(ctx context.Context, s *ScanSession) error
	DeleteScanSession(ctx context.Context, id string) error

	// Crawler links
	CreateLink(ctx context.Context, l *Link) error
	ListLinks(ctx context.Context, sessionID string) ([]*Link, error)
	UpdateLinkByURL(ctx context.Context, sessionID, url string, l *Link) (int64, error)
	DeleteLinksBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
