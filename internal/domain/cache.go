package domain

import (
	"context"
	"strconv"
	"time"
)

// Cache defines the interface for caching operations. Read-mostly data takes
// this path: the requirement checklist, the secretariat list, and finalized
// evaluation reads. Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Cache keys shared by handlers and workers.
const (
	CacheKeyRequisitos  = "ref:requisitos"
	CacheKeySecretarias = "ref:secretarias"
)

// CacheKeyAvaliacao returns the cache key for a finalized evaluation.
func CacheKeyAvaliacao(id int64) string {
	return "avaliacao:" + strconv.FormatInt(id, 10)
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
