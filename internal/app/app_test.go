// internal/app/app_test.go
package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/ecommerce-insights/internal/config"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

func TestOpenStore_Migrates(t *testing.T) {
	store, err := OpenStore(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "app.db"),
		AutoMigrate: true,
	}, observability.NopLogger())
	require.NoError(t, err)
	defer store.Close()

	tables, err := store.TableNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, tables, "total_sales_metrics")
	assert.Contains(t, tables, "ad_sales_metrics")
	assert.Contains(t, tables, "product_eligibility")
}

func TestOpenStore_EmptyPath(t *testing.T) {
	_, err := OpenStore(config.DatabaseConfig{}, observability.NopLogger())
	assert.Error(t, err)
}

func TestNewRedis(t *testing.T) {
	logger := observability.NopLogger()

	t.Run("disabled", func(t *testing.T) {
		assert.Nil(t, NewRedis(context.Background(), config.RedisConfig{Enabled: false}, logger))
	})

	t.Run("reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := NewRedis(context.Background(), config.RedisConfig{Enabled: true, Addr: mr.Addr()}, logger)
		require.NotNil(t, client)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()).Err())
	})

	t.Run("unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()
		assert.Nil(t, NewRedis(context.Background(), config.RedisConfig{Enabled: true, Addr: addr}, logger))
	})
}

func TestBreakerConfig(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		breaker := BreakerConfig(config.LLMConfig{BreakerMaxFailures: 2, BreakerOpenTimeout: 5 * time.Second})
		assert.Equal(t, 5*time.Second, breaker.Timeout)
		assert.False(t, breaker.ReadyToTrip(gobreaker.Counts{ConsecutiveFailures: 1}))
		assert.True(t, breaker.ReadyToTrip(gobreaker.Counts{ConsecutiveFailures: 2}))
	})

	t.Run("defaults", func(t *testing.T) {
		breaker := BreakerConfig(config.LLMConfig{})
		assert.Equal(t, 60*time.Second, breaker.Timeout)
		assert.False(t, breaker.ReadyToTrip(gobreaker.Counts{Requests: 2, ConsecutiveFailures: 2, TotalFailures: 2}))
	})
}

func TestProcessorConfig(t *testing.T) {
	cfg := &config.Config{
		Query: config.QueryConfig{
			MaxQuestionLength:  500,
			MaxSQLLength:       800,
			Timeout:            10 * time.Second,
			CacheTTL:           time.Minute,
			SlowQueryThreshold: 2 * time.Second,
			MaxChartItems:      15,
			MaxBatchSize:       5,
			RetryWithPlanner:   true,
		},
		LLM: config.LLMConfig{
			Timeout:              20 * time.Second,
			NarrativeEnabled:     true,
			NarrativeTemperature: 0.4,
		},
	}

	pc := ProcessorConfig(cfg)
	assert.Equal(t, 500, pc.MaxQuestionLength)
	assert.Equal(t, 800, pc.MaxSQLLength)
	assert.Equal(t, 10*time.Second, pc.QueryTimeout)
	assert.Equal(t, 20*time.Second, pc.GenerationTimeout)
	assert.Equal(t, time.Minute, pc.CacheTTL)
	assert.Equal(t, 2*time.Second, pc.SlowQueryThreshold)
	assert.Equal(t, 15, pc.MaxChartItems)
	assert.Equal(t, 5, pc.MaxBatchSize)
	assert.True(t, pc.RetryWithPlanner)
	assert.True(t, pc.NarrativeEnabled)
	assert.Equal(t, 0.4, pc.NarrativeTemperature)
}

func TestNewOllama(t *testing.T) {
	client := NewOllama(config.LLMConfig{Model: "llama3"})
	assert.Equal(t, "llama3", client.Model())
}
