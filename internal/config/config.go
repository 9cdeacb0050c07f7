package config

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Server    ServerConfig
	Query     QueryConfig
	History   HistoryConfig
	Log       LogConfig

	// Sources maps every key read from a provider to where it came from.
	// Keys left at their default are absent.
	Sources map[string]string
}

// DatabaseConfig holds the SQLite store configuration
type DatabaseConfig struct {
	Path          string
	MaxOpenConns  int
	AutoMigrate   bool
	BusyTimeoutMs int
}

// RedisConfig holds the response cache configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LLMConfig holds the Ollama text-completion configuration
type LLMConfig struct {
	BaseURL              string
	Model                string
	Timeout              time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
	BreakerMaxFailures   int
	BreakerOpenTimeout   time.Duration
	NarrativeEnabled     bool
	NarrativeTemperature float64
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	SessionExpiry  time.Duration
	AllowAnonymous bool
	AdminPassword  string
}

// RateLimitConfig holds the per-client token bucket settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string
	GinMode        string
	AllowedOrigin  string
	TrustedProxies []string
	Version        string
}

// QueryConfig holds question pipeline limits
type QueryConfig struct {
	MaxQuestionLength  int
	MaxSQLLength       int
	Timeout            time.Duration
	CacheTTL           time.Duration
	SlowQueryThreshold time.Duration
	MaxChartItems      int
	MaxBatchSize       int
	RetryWithPlanner   bool
}

// HistoryConfig holds the optional Postgres question history store
type HistoryConfig struct {
	Enabled     bool
	DSN         string
	AutoMigrate bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
	sources  map[string]string
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader creates a loader with the default provider chain:
// Kubernetes secret mount, then /var/secrets, then environment variables.
func NewDefaultLoader() *Loader {
	return &Loader{
		provider: NewChainProvider(
			NewK8sProvider(""),
			NewFileProvider("/var/secrets"),
			NewEnvProvider(),
		),
	}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	l.sources = make(map[string]string)

	cfg.Database = DatabaseConfig{
		Path:          l.getString(ctx, "DB_PATH", "data/ecommerce.db"),
		MaxOpenConns:  l.getInt(ctx, "DB_MAX_OPEN_CONNS", 4),
		AutoMigrate:   l.getBool(ctx, "DB_AUTO_MIGRATE", true),
		BusyTimeoutMs: l.getInt(ctx, "DB_BUSY_TIMEOUT_MS", 5000),
	}

	cfg.Redis = RedisConfig{
		Enabled:  l.getBool(ctx, "REDIS_ENABLED", true),
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.LLM = LLMConfig{
		BaseURL:              l.getString(ctx, "OLLAMA_BASE_URL", "http://localhost:11434"),
		Model:                l.getString(ctx, "OLLAMA_MODEL", "mistral:7b-instruct"),
		Timeout:              l.getDuration(ctx, "LLM_TIMEOUT", 30*time.Second),
		MaxRetries:           l.getInt(ctx, "LLM_MAX_RETRIES", 2),
		RetryBaseDelay:       l.getDuration(ctx, "LLM_RETRY_BASE_DELAY", 200*time.Millisecond),
		BreakerMaxFailures:   l.getInt(ctx, "LLM_BREAKER_MAX_FAILURES", 5),
		BreakerOpenTimeout:   l.getDuration(ctx, "LLM_BREAKER_OPEN_TIMEOUT", 60*time.Second),
		NarrativeEnabled:     l.getBool(ctx, "LLM_NARRATIVE_ENABLED", true),
		NarrativeTemperature: l.getFloat(ctx, "LLM_NARRATIVE_TEMPERATURE", 0.3),
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:      l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		SessionExpiry:  l.getDuration(ctx, "SESSION_EXPIRY", 7*24*time.Hour),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		AdminPassword:  l.getString(ctx, "ADMIN_PASSWORD", ""),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:           l.getBool(ctx, "RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: l.getFloat(ctx, "RATE_LIMIT_RPS", 5),
		Burst:             l.getInt(ctx, "RATE_LIMIT_BURST", 20),
	}

	cfg.Server = ServerConfig{
		Port:           l.getString(ctx, "PORT", "8000"),
		GinMode:        l.getString(ctx, "GIN_MODE", "debug"),
		AllowedOrigin:  l.getString(ctx, "CORS_ALLOWED_ORIGIN", "*"),
		TrustedProxies: l.getSlice(ctx, "TRUSTED_PROXIES", nil),
		Version:        l.getString(ctx, "SERVICE_VERSION", "1.0.0"),
	}

	cfg.Query = QueryConfig{
		MaxQuestionLength:  l.getInt(ctx, "MAX_QUESTION_LENGTH", 1000),
		MaxSQLLength:       l.getInt(ctx, "MAX_SQL_LENGTH", 1000),
		Timeout:            l.getDuration(ctx, "QUERY_TIMEOUT", 30*time.Second),
		CacheTTL:           l.getDuration(ctx, "CACHE_TTL", 5*time.Minute),
		SlowQueryThreshold: l.getDuration(ctx, "SLOW_QUERY_THRESHOLD", 5*time.Second),
		MaxChartItems:      l.getInt(ctx, "MAX_CHART_ITEMS", 20),
		MaxBatchSize:       l.getInt(ctx, "MAX_BATCH_SIZE", 10),
		RetryWithPlanner:   l.getBool(ctx, "RETRY_WITH_PLANNER", true),
	}

	cfg.History = HistoryConfig{
		DSN:         l.getString(ctx, "HISTORY_DATABASE_URL", ""),
		AutoMigrate: l.getBool(ctx, "HISTORY_AUTO_MIGRATE", true),
	}
	cfg.History.Enabled = l.getBool(ctx, "HISTORY_ENABLED", cfg.History.DSN != "")

	cfg.Log = LogConfig{
		Level: l.getString(ctx, "LOG_LEVEL", "info"),
	}

	cfg.Sources = l.sources
	return cfg, nil
}

// Helper methods for retrieving and parsing configuration values

// lookup returns the raw value for key, or "" when no provider has it, and
// records the source of every value found
func (l *Loader) lookup(ctx context.Context, key string) string {
	value, source, err := lookup(ctx, l.provider, key)
	if err != nil || value == "" {
		return ""
	}
	if l.sources != nil {
		l.sources[key] = source
	}
	return value
}

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getFloat(ctx context.Context, key string, defaultValue float64) float64 {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getSlice splits a comma separated value
func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value := l.lookup(ctx, key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// MustLoad loads configuration and panics on error
func (l *Loader) MustLoad(ctx context.Context) *Config {
	cfg, err := l.Load(ctx)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
