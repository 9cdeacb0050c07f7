// test/integration_test.go
//go:build integration
// +build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/ecommerce-insights/internal/api"
	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/auth"
	"github.com/seanankenbruck/ecommerce-insights/internal/config"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/history"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
	"github.com/seanankenbruck/ecommerce-insights/internal/session"
)

// Integration tests wire the full stack against a file-backed store, an
// in-memory Redis and a stub Ollama server.
// Run with: go test -tags=integration ./test/...
// Set INTEGRATION_HISTORY_DSN to also exercise the Postgres history store.

const adminPassword = "integration-admin-pass"

// ollamaStub answers generation prompts with SQL and narrative prompts with text
type ollamaStub struct {
	mu    sync.Mutex
	sql   string
	down  bool
	hits  atomic.Int64
	model string
}

func (s *ollamaStub) setSQL(sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sql = sql
}

func (s *ollamaStub) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *ollamaStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)
	s.mu.Lock()
	sql, down := s.sql, s.down
	s.mu.Unlock()

	if down {
		http.Error(w, `{"error":"model crashed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/tags":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]interface{}{{"name": s.model, "size": 1 << 30, "modified_at": time.Now().UTC()}},
		})
	case "/api/generate":
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		text := "Advertising drove a steady stream of clicks across the catalog."
		if strings.HasSuffix(strings.TrimSpace(req.Prompt), "SQL Query:") {
			text = sql
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":             s.model,
			"response":          text,
			"done":              true,
			"prompt_eval_count": 120,
			"eval_count":        24,
		})
	default:
		http.NotFound(w, r)
	}
}

type stack struct {
	server  *httptest.Server
	ollama  *ollamaStub
	llm     *llm.CircuitBreakerClient
	store   *database.Store
	history *history.Store
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()
	logger := observability.NopLogger()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "integration.db"), AutoMigrate: true},
		LLM: config.LLMConfig{
			Model:              "mistral:7b-instruct",
			Timeout:            5 * time.Second,
			BreakerMaxFailures: 2,
			BreakerOpenTimeout: time.Minute,
			NarrativeEnabled:   true,
		},
		Query: config.QueryConfig{
			Timeout:          10 * time.Second,
			CacheTTL:         time.Minute,
			MaxChartItems:    20,
			MaxBatchSize:     10,
			RetryWithPlanner: true,
		},
	}

	store, err := app.OpenStore(cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Seed(ctx, database.GenerateSeedData(database.DefaultSeedOptions)))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	stub := &ollamaStub{model: cfg.LLM.Model, sql: "SELECT SUM(clicks) AS clicks FROM ad_sales_metrics;"}
	ollamaServer := httptest.NewServer(stub)
	t.Cleanup(ollamaServer.Close)
	cfg.LLM.BaseURL = ollamaServer.URL

	llmClient := app.NewLLMClient(cfg.LLM, logger)
	qp := processor.New(store, llmClient, rdb, app.ProcessorConfig(cfg), logger)

	var historyStore *history.Store
	if dsn := os.Getenv("INTEGRATION_HISTORY_DSN"); dsn != "" {
		historyStore, err = history.Open(dsn, true, logger)
		require.NoError(t, err)
		t.Cleanup(func() { historyStore.Close() })
		qp.SetHistoryRecorder(historyStore)
	}
	t.Cleanup(qp.Close)

	authManager := auth.NewManager(auth.Config{
		JWTSecret:     "integration-secret",
		JWTExpiry:     time.Hour,
		AdminPassword: adminPassword,
	}, session.NewManager(rdb, time.Hour), logger)

	health := observability.NewHealthChecker("ecommerce-insights", "integration")
	health.Register("database", observability.StoreHealthCheck(store.Ping, store.TableNames, database.DescribedTableNames()))
	health.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	health.Register("llm", observability.LLMHealthCheck(llmClient.Health))

	opts := api.Options{
		Processor:   qp,
		Store:       store,
		Auth:        authManager,
		Limiter:     auth.NewRateLimiter(1000, 1000),
		Health:      health,
		Logger:      logger,
		Version:     "integration",
		StreamDelay: -1,
	}
	if historyStore != nil {
		opts.History = historyStore
	}

	server := httptest.NewServer(api.NewServer(opts).Router())
	t.Cleanup(server.Close)

	return &stack{server: server, ollama: stub, llm: llmClient, store: store, history: historyStore}
}

// client logs in as the default admin and keeps the session cookie
func (s *stack) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	resp := s.post(t, c, "/api/v1/auth/login", map[string]string{"username": "admin", "password": adminPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	return c
}

func (s *stack) post(t *testing.T, c *http.Client, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := c.Post(s.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (s *stack) get(t *testing.T, c *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := c.Get(s.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestQuestionPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newStack(t)
	c := s.client(t)

	t.Run("GeneratedSQLWithModelNarrative", func(t *testing.T) {
		resp := s.post(t, c, "/api/v1/query", map[string]string{"question": "How many clicks did our ads get?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)

		assert.Equal(t, string(processor.SourceGenerated), body["sql_source"])
		assert.Equal(t, string(processor.NarrativeModel), body["narrative_source"])
		assert.Contains(t, body["sql_query"], "SUM(clicks)")
		assert.Equal(t, float64(1), body["data_points"])
		assert.Equal(t, false, body["cached"])
	})

	t.Run("RepeatedQuestionIsCached", func(t *testing.T) {
		before := s.ollama.hits.Load()
		resp := s.post(t, c, "/api/v1/query", map[string]string{"question": "How many clicks did our ads get?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)

		assert.Equal(t, true, body["cached"])
		assert.Equal(t, before, s.ollama.hits.Load())
	})

	t.Run("HighStakesQuestionSkipsGeneration", func(t *testing.T) {
		resp := s.post(t, c, "/api/v1/query", map[string]interface{}{"question": "What are the total sales?", "use_llm_narrative": false})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)

		assert.Equal(t, string(processor.SourceFallback), body["sql_source"])
		assert.Equal(t, string(processor.NarrativeFormatter), body["narrative_source"])
		assert.Contains(t, body["response"], "$")
		assert.NotNil(t, body["chart_data"])
	})

	t.Run("UnsafeGeneratedSQLIsRejected", func(t *testing.T) {
		s.ollama.setSQL("SELECT REPLACE(item_id, '1', '2') AS item FROM ad_sales_metrics;")
		defer s.ollama.setSQL("SELECT SUM(clicks) AS clicks FROM ad_sales_metrics;")

		resp := s.post(t, c, "/api/v1/query", map[string]string{"question": "Which items had ad impressions?"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody(t, resp)
		errBody := body["error"].(map[string]interface{})
		assert.Equal(t, "UNSAFE_SQL", errBody["code"])

		counts, err := s.store.TableCounts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(750), counts[database.TableTotalSales])
	})

	t.Run("FailingModelFallsBackToPlanner", func(t *testing.T) {
		s.ollama.setDown(true)
		defer s.ollama.setDown(false)

		for _, q := range []string{"How much did we spend on ads?", "How many units did ads sell?"} {
			resp := s.post(t, c, "/api/v1/query", map[string]string{"question": q})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.Equal(t, string(processor.SourceFallback), body["sql_source"])
			assert.Equal(t, string(processor.NarrativeFormatter), body["narrative_source"])
		}
		assert.Equal(t, gobreaker.StateOpen, s.llm.State())

		// an open breaker fails fast without reaching the server
		before := s.ollama.hits.Load()
		resp := s.post(t, c, "/api/v1/query", map[string]string{"question": "What was the average order size?"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
		assert.Equal(t, before, s.ollama.hits.Load())
	})

	t.Run("StreamMatchesQueryNarrative", func(t *testing.T) {
		question := map[string]interface{}{"question": "What is the conversion rate?", "use_llm_narrative": false}

		resp := s.post(t, c, "/api/v1/query/stream", question)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var streamed bytes.Buffer
		_, err := streamed.ReadFrom(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		assert.NotEmpty(t, resp.Header.Get("X-SQL-Query"))

		resp = s.post(t, c, "/api/v1/query", question)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, decodeBody(t, resp)["response"], streamed.String())
	})

	t.Run("BatchMixesSuccessAndFailure", func(t *testing.T) {
		resp := s.post(t, c, "/api/v1/query/batch", map[string]interface{}{
			"questions": []map[string]interface{}{
				{"question": "Show me the top products", "use_llm_narrative": false},
				{"question": "sales; DROP TABLE total_sales_metrics"},
			},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, float64(1), body["successful_queries"])
		assert.Equal(t, float64(1), body["failed_queries"])
	})
}

func TestAuthenticatedAPIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := newStack(t)

	t.Run("SessionCookieAuthenticates", func(t *testing.T) {
		c := s.client(t)
		body := decodeBody(t, s.get(t, c, "/api/v1/auth/me"))
		user, ok := body["user"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "admin", user["username"])
		assert.Equal(t, "session", body["auth_type"])
	})

	t.Run("LogoutRevokesSession", func(t *testing.T) {
		c := s.client(t)
		resp := s.post(t, c, "/api/v1/auth/logout", map[string]string{})
		resp.Body.Close()

		resp = s.get(t, c, "/api/v1/auth/me")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("APIKeyAuthenticates", func(t *testing.T) {
		c := s.client(t)
		resp := s.post(t, c, "/api/v1/auth/apikeys", map[string]string{"name": "integration", "expires_in": "1d"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		key, ok := decodeBody(t, resp)["key"].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(key, "eci_"))

		req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/metrics/summary", nil)
		require.NoError(t, err)
		req.Header.Set("X-API-Key", key)
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("UnauthenticatedIsRejected", func(t *testing.T) {
		resp := s.get(t, http.DefaultClient, "/api/v1/metrics/summary")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("DetailedHealthReportsComponents", func(t *testing.T) {
		body := decodeBody(t, s.get(t, http.DefaultClient, "/health/detailed"))
		checks, ok := body["checks"].(map[string]interface{})
		require.True(t, ok)
		assert.Contains(t, checks, "database")
		assert.Contains(t, checks, "redis")
		assert.Contains(t, checks, "llm")
	})
}

func TestHistoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if os.Getenv("INTEGRATION_HISTORY_DSN") == "" {
		t.Skip("INTEGRATION_HISTORY_DSN not set")
	}

	s := newStack(t)
	c := s.client(t)

	question := "How many clicks did our ads get in total?"
	resp := s.post(t, c, "/api/v1/query", map[string]string{"question": question})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// recording happens off the request path
	require.Eventually(t, func() bool {
		entries, err := s.history.Recent(context.Background(), 50)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Question == question {
				return true
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)

	body := decodeBody(t, s.get(t, c, "/api/v1/history/similar?q=clicks+from+ads&limit=5"))
	assert.Greater(t, body["count"], float64(0))
}
