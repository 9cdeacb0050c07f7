// Package app builds the runtime components shared by the server and the CLI
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/ecommerce-insights/internal/config"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

const redisPingTimeout = 2 * time.Second

// OpenStore opens the metrics store and applies pending migrations when
// AutoMigrate is set
func OpenStore(cfg config.DatabaseConfig, logger *observability.Logger) (*database.Store, error) {
	store, err := database.Open(database.Config{
		Path:          cfg.Path,
		MaxOpenConns:  cfg.MaxOpenConns,
		BusyTimeoutMs: cfg.BusyTimeoutMs,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := database.RunMigrations(store.DB()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRedis returns a connected cache client, or nil when caching is disabled
// or the server cannot be reached
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *observability.Logger) *redis.Client {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn(ctx, "Redis unavailable, continuing without cache and sessions", map[string]interface{}{
			"addr":  cfg.Addr,
			"error": err.Error(),
		})
		_ = client.Close()
		return nil
	}
	return client
}

// NewOllama builds the Ollama client with retries
func NewOllama(cfg config.LLMConfig) *llm.OllamaClient {
	return llm.NewOllamaClient(llm.Config{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Retry: llm.RetryConfig{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   llm.DefaultRetryConfig.MaxDelay,
		},
	})
}

// NewLLMClient wraps the Ollama client in a circuit breaker that opens after
// BreakerMaxFailures consecutive failures
func NewLLMClient(cfg config.LLMConfig, logger *observability.Logger) *llm.CircuitBreakerClient {
	breaker := BreakerConfig(cfg)
	breaker.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn(context.Background(), "LLM circuit breaker changed state", map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
		observability.GetGlobalMetrics().Inc("llm_breaker_transitions_total", map[string]string{"to": to.String()})
	}
	return llm.NewCircuitBreakerClient(NewOllama(cfg), "ollama", breaker)
}

// BreakerConfig maps the configured limits onto the breaker defaults
func BreakerConfig(cfg config.LLMConfig) llm.CircuitBreakerConfig {
	breaker := llm.DefaultCircuitBreakerConfig
	if cfg.BreakerOpenTimeout > 0 {
		breaker.Timeout = cfg.BreakerOpenTimeout
	}
	if cfg.BreakerMaxFailures > 0 {
		maxFailures := uint32(cfg.BreakerMaxFailures)
		breaker.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		}
	}
	return breaker
}

// ProcessorConfig maps the loaded configuration onto the pipeline limits
func ProcessorConfig(cfg *config.Config) processor.Config {
	return processor.Config{
		MaxQuestionLength:    cfg.Query.MaxQuestionLength,
		MaxSQLLength:         cfg.Query.MaxSQLLength,
		QueryTimeout:         cfg.Query.Timeout,
		GenerationTimeout:    cfg.LLM.Timeout,
		CacheTTL:             cfg.Query.CacheTTL,
		SlowQueryThreshold:   cfg.Query.SlowQueryThreshold,
		MaxChartItems:        cfg.Query.MaxChartItems,
		MaxBatchSize:         cfg.Query.MaxBatchSize,
		RetryWithPlanner:     cfg.Query.RetryWithPlanner,
		NarrativeEnabled:     cfg.LLM.NarrativeEnabled,
		NarrativeTemperature: cfg.LLM.NarrativeTemperature,
	}
}

// LoadConfig loads configuration from the default provider chain and
// validates it, applying the stricter checks in production
func LoadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateWithContext(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger returns a component logger at the configured level
func NewLogger(component string, cfg config.LogConfig) *observability.Logger {
	return observability.NewLogger(component).WithLevel(observability.ParseLogLevel(cfg.Level))
}
