package domain

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete portal configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Mailer     MailerConfig     `json:"mailer"`

	// Lifecycle policy
	Policy PolicyConfig `json:"policy"`

	// Crawler integration
	Crawler CrawlerConfig `json:"crawler"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// PolicyConfig holds the lifecycle policy knobs.
type PolicyConfig struct {
	// AppealWindow is how long a devolved evaluation accepts an appeal.
	AppealWindow time.Duration `json:"appealWindow"`

	// SweepInterval is how often the expiry sweep runs.
	SweepInterval time.Duration `json:"sweepInterval"`

	// CicloAno is the assessment cycle year stamped on new submissions.
	CicloAno int `json:"cicloAno"`
}

// CrawlerConfig holds settings for the external link-crawler process.
type CrawlerConfig struct {
	// Command is the scanner executable invoked per session.
	Command string `json:"command"`

	// DefaultDepth is the crawl depth when the caller does not specify one.
	DefaultDepth int `json:"defaultDepth"`

	// LinkRetention is how long crawler link rows are kept before the
	// startup cleanup removes them.
	LinkRetention time.Duration `json:"linkRetention"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// JWTSigningKey verifies caller identity tokens.
	JWTSigningKey string `json:"-"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns a configuration suitable for local development:
// SQLite, in-memory cache, channel bus, log-only mailer.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./radar.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Mailer: MailerConfig{
			Type: "log",
		},
		Policy: PolicyConfig{
			AppealWindow:  10 * 24 * time.Hour,
			SweepInterval: 15 * time.Minute,
			CicloAno:      time.Now().Year(),
		},
		Crawler: CrawlerConfig{
			Command:       "scanner",
			DefaultDepth:  5,
			LinkRetention: 12 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "radar",
		},
	}
}

// FromEnv returns the default configuration overridden by RADAR_*
// environment variables.
func FromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("RADAR_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := envInt("RADAR_PORT"); v > 0 {
		cfg.Server.Port = v
	}
	cfg.Server.JWTSigningKey = os.Getenv("RADAR_JWT_KEY")

	if v := os.Getenv("RADAR_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("RADAR_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("RADAR_PG_HOST"); v != "" {
		cfg.Repository.Driver = "postgres"
		cfg.Repository.PostgresHost = v
	}
	if v := envInt("RADAR_PG_PORT"); v > 0 {
		cfg.Repository.PostgresPort = v
	}
	if v := os.Getenv("RADAR_PG_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("RADAR_PG_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("RADAR_PG_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("RADAR_PG_SSLMODE"); v != "" {
		cfg.Repository.PostgresSSLMode = v
	}

	if v := os.Getenv("RADAR_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
		cfg.Cache.RedisPassword = os.Getenv("RADAR_REDIS_PASSWORD")
		cfg.Cache.EnableTwoPhase = true
	}

	if v := os.Getenv("RADAR_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
		cfg.EventBus.NATSToken = os.Getenv("RADAR_NATS_TOKEN")
	}

	if v := os.Getenv("RADAR_MAIL_API_KEY"); v != "" {
		cfg.Mailer.Type = "http"
		cfg.Mailer.APIKey = v
		cfg.Mailer.APIBaseURL = os.Getenv("RADAR_MAIL_API_URL")
		cfg.Mailer.FromEmail = os.Getenv("RADAR_MAIL_FROM")
		cfg.Mailer.FromName = os.Getenv("RADAR_MAIL_FROM_NAME")
	}

	if v := envInt("RADAR_PRAZO_RECURSO_DIAS"); v > 0 {
		cfg.Policy.AppealWindow = time.Duration(v) * 24 * time.Hour
	}
	if v := envInt("RADAR_SWEEP_MINUTOS"); v > 0 {
		cfg.Policy.SweepInterval = time.Duration(v) * time.Minute
	}
	if v := envInt("RADAR_CICLO_ANO"); v > 0 {
		cfg.Policy.CicloAno = v
	}

	if v := os.Getenv("RADAR_SCANNER_CMD"); v != "" {
		cfg.Crawler.Command = v
	}
	if v := envInt("RADAR_SCANNER_DEPTH"); v > 0 {
		cfg.Crawler.DefaultDepth = v
	}

	if os.Getenv("RADAR_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if os.Getenv("RADAR_TRACING") == "true" {
		cfg.Tracing.Enabled = true
	}

	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
