// cmd/insightsctl/cli_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

func TestMain(m *testing.M) {
	pterm.DisableOutput()
	os.Exit(m.Run())
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openStore(t *testing.T, path string) *database.Store {
	t.Helper()
	store, err := database.Open(database.Config{Path: path}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrateCommands(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--db", dbPath, "migrate", "up")
	require.NoError(t, err)

	store := openStore(t, dbPath)
	status, err := database.MigrationVersion(store.DB())
	require.NoError(t, err)
	assert.Greater(t, status.Version, uint(0))
	assert.False(t, status.Dirty)

	_, err = runCLI(t, "--db", dbPath, "migrate", "version")
	assert.NoError(t, err)

	// a second run is a no-op
	_, err = runCLI(t, "--db", dbPath, "migrate", "up")
	assert.NoError(t, err)
}

func TestMigrateHistory_RequiresDSN(t *testing.T) {
	t.Setenv("HISTORY_DATABASE_URL", "")
	_, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "cli.db"), "migrate", "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history database configured")
}

func TestSeedCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--db", dbPath, "seed", "--products", "3", "--days", "4", "--start", "2025-01-01")
	require.NoError(t, err)

	store := openStore(t, dbPath)
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), stats.Counts[database.TableTotalSales])
	assert.Equal(t, int64(3), stats.Counts[database.TableEligibility])
	assert.Equal(t, int64(3), stats.UniqueProducts)
	assert.Equal(t, "2025-01-01", stats.FirstDate)
	assert.Equal(t, "2025-01-04", stats.LastDate)

	t.Run("populated store is left alone", func(t *testing.T) {
		_, err := runCLI(t, "--db", dbPath, "seed", "--products", "5", "--days", "4", "--start", "2025-01-01")
		require.NoError(t, err)

		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.UniqueProducts)
	})

	t.Run("force seeds anyway", func(t *testing.T) {
		_, err := runCLI(t, "--db", dbPath, "seed", "--force", "--products", "5", "--days", "4", "--start", "2025-01-01")
		require.NoError(t, err)

		stats, err := store.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(5), stats.UniqueProducts)
	})
}

func TestSeedCommand_InvalidStart(t *testing.T) {
	_, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "cli.db"), "seed", "--start", "01/02/2025")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --start")
}

func TestAskCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	_, err := runCLI(t, "--db", dbPath, "seed")
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		out, err := runCLI(t, "--db", dbPath, "ask", "--no-llm", "--json", "What", "are", "the", "total", "sales?")
		require.NoError(t, err)

		var resp processor.QueryResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "What are the total sales?", resp.Question)
		assert.Equal(t, processor.SourceFallback, resp.SQLSource)
		assert.Equal(t, 1, resp.DataPoints)
		assert.Contains(t, resp.Response, "$")
	})

	t.Run("table", func(t *testing.T) {
		_, err := runCLI(t, "--db", dbPath, "ask", "--no-llm", "Show me the top 5 products by sales")
		assert.NoError(t, err)
	})

	t.Run("rejected question", func(t *testing.T) {
		_, err := runCLI(t, "--db", dbPath, "ask", "--no-llm", "sales; DROP TABLE total_sales_metrics")
		assert.Error(t, err)
	})

	t.Run("missing question", func(t *testing.T) {
		_, err := runCLI(t, "--db", dbPath, "ask")
		assert.Error(t, err)
	})
}

func newOllamaStub(t *testing.T, model string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"` + model + `","size":4109865159,"modified_at":"2025-05-01T10:00:00Z"}]}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{"model":"` + model + `","response":"OK","done":true,"prompt_eval_count":9,"eval_count":1}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLMCommand(t *testing.T) {
	tests := []struct {
		name       string
		installed  string
		configured string
		args       []string
		wantErr    bool
	}{
		{name: "installed with completion", installed: "mistral:7b-instruct", configured: "mistral:7b-instruct"},
		{name: "latest tag matches", installed: "llama3:latest", configured: "llama3"},
		{name: "skip completion", installed: "mistral:7b-instruct", configured: "mistral:7b-instruct", args: []string{"--skip-completion"}},
		{name: "model missing", installed: "llama3:latest", configured: "mistral:7b-instruct", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newOllamaStub(t, tt.installed)
			t.Setenv("OLLAMA_BASE_URL", srv.URL)
			t.Setenv("OLLAMA_MODEL", tt.configured)

			args := append([]string{"--db", filepath.Join(t.TempDir(), "cli.db"), "check-llm"}, tt.args...)
			_, err := runCLI(t, args...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckLLMCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	t.Setenv("OLLAMA_BASE_URL", url)
	t.Setenv("LLM_MAX_RETRIES", "0")

	_, err := runCLI(t, "--db", filepath.Join(t.TempDir(), "cli.db"), "check-llm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server unreachable")
}

func TestRowsTable(t *testing.T) {
	rows := []processor.Row{
		{"item_id": int64(1001), "total_sales": 1520.5, "name": nil},
		{"item_id": int64(1002), "total_sales": 900.0, "name": []byte("widget")},
		{"item_id": int64(1003), "total_sales": 10.0, "name": "gadget"},
	}

	data := rowsTable([]string{"item_id", "total_sales", "name"}, rows, 2)
	require.Len(t, data, 3)
	assert.Equal(t, []string{"item_id", "total_sales", "name"}, data[0])
	assert.Equal(t, []string{"1001", "1520.50", "NULL"}, data[1])
	assert.Equal(t, []string{"1002", "900", "widget"}, data[2])
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{name: "nil", in: nil, want: "NULL"},
		{name: "whole float", in: 42.0, want: "42"},
		{name: "fractional float", in: 3.14159, want: "3.14"},
		{name: "int", in: int64(7), want: "7"},
		{name: "bytes", in: []byte("abc"), want: "abc"},
		{name: "string", in: "x", want: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatCell(tt.in))
		})
	}
}
