// internal/processor/processor_test.go
package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const impressionsSQL = "SELECT item_id, SUM(impressions) AS impressions FROM ad_sales_metrics GROUP BY item_id ORDER BY impressions DESC LIMIT 5;"

func newTestProcessor(exec Executor, client llm.Client, cache *redis.Client, cfg Config) *Processor {
	return New(exec, client, cache, cfg, observability.NopLogger())
}

func setupMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func plannedSQL(question string) string {
	return NewPlanner(nil).Plan(question).SQL
}

// blockingExecutor waits for the query deadline
type blockingExecutor struct{}

func (blockingExecutor) Query(ctx context.Context, query string, args ...interface{}) (ResultSet, error) {
	<-ctx.Done()
	return ResultSet{}, ctx.Err()
}

// recordingHistory collects recorded questions
type recordingHistory struct {
	mu      sync.Mutex
	records []QuestionRecord
	err     error
}

func (r *recordingHistory) Record(ctx context.Context, rec QuestionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func TestAsk_HighStakesUsesPlanner(t *testing.T) {
	exec := newFakeExecutor()
	exec.results[plannedSQL("What is my total sales?")] = rowsOf([]string{"total_sales"}, Row{"total_sales": 1500.5})

	p := newTestProcessor(exec, forbiddenLLM{t: t}, nil, DefaultConfig())
	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})
	require.NoError(t, err)

	assert.Equal(t, "Your total sales amount to $1,500.50 across all products and time periods.", resp.Response)
	assert.Equal(t, NarrativeFormatter, resp.NarrativeSource)
	assert.Equal(t, SourceFallback, resp.SQLSource)
	assert.Equal(t, IntentTotalSales, resp.Intent)
	assert.Equal(t, []string{"total_sales"}, resp.Columns)
	assert.Equal(t, 1, resp.DataPoints)
	assert.False(t, resp.Cached)
	assert.Equal(t, string(OutcomeHighStakes), resp.QueryMetadata.Outcome)
	assert.Equal(t, len(resp.SQLQuery), resp.QueryMetadata.SQLLength)

	require.NotNil(t, resp.Shape)
	assert.Equal(t, ShapeSingleAggregate, resp.Shape.Kind)
	require.NotNil(t, resp.ChartData)
	assert.Equal(t, ChartBar, resp.ChartData.Type)
	assert.True(t, resp.EnhancedFeatures.HasVisualization)
	assert.Equal(t, ChartBar, resp.EnhancedFeatures.ChartType)
	assert.False(t, resp.EnhancedFeatures.ModelNarrative)
}

func TestAsk_GeneratedSQL(t *testing.T) {
	exec := newFakeExecutor()
	exec.results[impressionsSQL] = rowsOf([]string{"item_id", "impressions"},
		Row{"item_id": int64(1), "impressions": int64(900)},
		Row{"item_id": int64(2), "impressions": int64(400)},
	)
	client := &scriptedLLM{sql: "Sure!\n" + impressionsSQL, narrative: "Product 1 leads with 900 impressions."}

	p := newTestProcessor(exec, client, nil, DefaultConfig())
	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "Which products get the most impressions?"})
	require.NoError(t, err)

	assert.Equal(t, impressionsSQL, resp.SQLQuery)
	assert.Equal(t, SourceGenerated, resp.SQLSource)
	assert.Equal(t, "Product 1 leads with 900 impressions.", resp.Response)
	assert.Equal(t, NarrativeModel, resp.NarrativeSource)
	assert.True(t, resp.EnhancedFeatures.ModelNarrative)
	assert.Equal(t, string(OutcomeGenerated), resp.QueryMetadata.Outcome)
	assert.Equal(t, 2, client.calls())

	require.NotNil(t, resp.ChartData)
	assert.Equal(t, []string{"1", "2"}, resp.ChartData.Labels())
	assert.Equal(t, []float64{900, 400}, resp.ChartData.Values())
}

func TestAsk_RetriesWithPlannerOnExecutionError(t *testing.T) {
	badSQL := "SELECT item_id, bogus FROM ad_sales_metrics;"
	generic := plannedSQL("Which products get the most impressions?")

	exec := newFakeExecutor()
	exec.errs[badSQL] = fmt.Errorf("no such column: bogus")
	exec.results[generic] = rowsOf([]string{"total_records"}, Row{"total_records": int64(42)})

	p := newTestProcessor(exec, &scriptedLLM{sql: badSQL}, nil, DefaultConfig())
	resp, err := p.Ask(context.Background(), &QueryRequest{
		Question:        "Which products get the most impressions?",
		UseLLMNarrative: boolPtr(false),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{badSQL, generic}, exec.executed())
	assert.Equal(t, SourceFallback, resp.SQLSource)
	assert.Equal(t, generic, resp.SQLQuery)
	assert.True(t, resp.QueryMetadata.Retried)
	assert.Equal(t, "Query results:\n• Total Records: 42", resp.Response)
}

func TestAsk_NoRetryWhenDisabled(t *testing.T) {
	badSQL := "SELECT item_id, bogus FROM ad_sales_metrics;"
	exec := newFakeExecutor()
	exec.errs[badSQL] = fmt.Errorf("no such column: bogus")

	cfg := DefaultConfig()
	cfg.RetryWithPlanner = false
	p := newTestProcessor(exec, &scriptedLLM{sql: badSQL}, nil, cfg)

	_, err := p.Ask(context.Background(), &QueryRequest{Question: "Which products get the most impressions?"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeQueryExecution))
	assert.Len(t, exec.executed(), 1)
}

func TestAsk_UnsafeGeneratedSQLIsRejected(t *testing.T) {
	unsafe := "SELECT item_id FROM ad_sales_metrics UNION SELECT REPLACE(message, 'a', 'b') FROM product_eligibility;"
	exec := newFakeExecutor()

	p := newTestProcessor(exec, &scriptedLLM{sql: unsafe}, nil, DefaultConfig())
	_, err := p.Ask(context.Background(), &QueryRequest{Question: "Which products get the most impressions?"})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsafeSQL))
	assert.Contains(t, err.Error(), "REPLACE")
	assert.Empty(t, exec.executed())
}

func TestAsk_QueryTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueryTimeout = 20 * time.Millisecond
	p := newTestProcessor(blockingExecutor{}, nil, nil, cfg)

	start := time.Now()
	_, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeQueryTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAsk_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newFakeExecutor()
	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	_, err := p.Ask(ctx, &QueryRequest{Question: "What is my total sales?"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, exec.executed())
}

func TestAsk_InvalidQuestion(t *testing.T) {
	exec := newFakeExecutor()
	p := newTestProcessor(exec, forbiddenLLM{t: t}, nil, DefaultConfig())

	for _, q := range []string{"", "sales; DROP TABLE ad_sales_metrics", strings.Repeat("x", 1001)} {
		_, err := p.Ask(context.Background(), &QueryRequest{Question: q})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidQuestion))
	}
	assert.Empty(t, exec.executed())
}

func TestAsk_WithoutChart(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 10.0})

	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?", IncludeChart: boolPtr(false)})
	require.NoError(t, err)

	assert.Nil(t, resp.ChartData)
	assert.NotNil(t, resp.Shape)
	assert.False(t, resp.EnhancedFeatures.HasVisualization)
}

func TestAsk_NarrativeDisabledByConfig(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"item_id", "impressions"}, Row{"item_id": int64(1), "impressions": int64(9)})
	client := &scriptedLLM{sql: impressionsSQL, narrative: "model text"}

	cfg := DefaultConfig()
	cfg.NarrativeEnabled = false
	p := newTestProcessor(exec, client, nil, cfg)

	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "Which products get the most impressions?"})
	require.NoError(t, err)

	assert.Equal(t, NarrativeFormatter, resp.NarrativeSource)
	assert.Equal(t, SourceGenerated, resp.SQLSource)
	assert.Equal(t, 1, client.calls())
}

func TestAsk_EmptyResult(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = ResultSet{Columns: []string{"total_sales"}, Rows: []Row{}}

	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})
	require.NoError(t, err)

	assert.Equal(t, NoDataMessage("What is my total sales?"), resp.Response)
	assert.Nil(t, resp.Shape)
	assert.Nil(t, resp.ChartData)
	assert.Equal(t, 0, resp.DataPoints)
}

func TestAsk_CachesResponses(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 1500.5})
	p := newTestProcessor(exec, nil, setupMiniredis(t), DefaultConfig())
	ctx := context.Background()

	first, err := p.Ask(ctx, &QueryRequest{Question: "What is my total sales?"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := p.Ask(ctx, &QueryRequest{Question: "what is my   TOTAL sales?"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Response, second.Response)
	assert.Equal(t, first.SQLQuery, second.SQLQuery)
	assert.Len(t, exec.executed(), 1)

	_, err = p.Ask(ctx, &QueryRequest{Question: "What is my total sales?", IncludeChart: boolPtr(false)})
	require.NoError(t, err)
	assert.Len(t, exec.executed(), 2, "different flags use a different cache entry")
}

func TestAsk_NoCacheWithoutRedis(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 1.0})
	p := newTestProcessor(exec, nil, nil, DefaultConfig())

	for i := 0; i < 2; i++ {
		resp, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	}
	assert.Len(t, exec.executed(), 2)
}

func TestAsk_RecordsHistory(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 1.0})
	history := &recordingHistory{}

	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	p.SetHistoryRecorder(history)

	_, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})
	require.NoError(t, err)
	_, err = p.Ask(context.Background(), &QueryRequest{Question: "sales; DROP TABLE x"})
	require.Error(t, err)
	p.Close()

	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, "What is my total sales?", rec.Question)
	assert.Equal(t, SourceFallback, rec.Source)
	assert.Equal(t, IntentTotalSales, rec.Intent)
	assert.Equal(t, 1, rec.RowCount)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestAsk_HistoryFailureDoesNotFailQuestion(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 1.0})

	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	p.SetHistoryRecorder(&recordingHistory{err: fmt.Errorf("history store down")})

	resp, err := p.Ask(context.Background(), &QueryRequest{Question: "What is my total sales?"})
	p.Close()
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Response)
}

func TestExecuteRaw(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"n"}, Row{"n": int64(1)})
	p := newTestProcessor(exec, nil, nil, DefaultConfig())
	ctx := context.Background()

	result, err := p.ExecuteRaw(ctx, "SELECT COUNT(*) AS n FROM product_eligibility")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count)
	assert.Equal(t, []string{"n"}, result.Columns)
	assert.Empty(t, result.Warnings)

	result, err = p.ExecuteRaw(ctx, "SELECT 1 AS n")
	require.NoError(t, err)
	assert.Equal(t, []string{"Query doesn't reference any known tables"}, result.Warnings)

	_, err = p.ExecuteRaw(ctx, "DELETE FROM product_eligibility")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsafeSQL))
	assert.Len(t, exec.executed(), 2)
}

func TestExecuteRaw_RejectsStackedStatements(t *testing.T) {
	store := database.OpenTestStore(t)
	p := newTestProcessor(store, nil, nil, DefaultConfig())
	ctx := context.Background()
	attached := filepath.Join(t.TempDir(), "other.db")

	tests := []struct {
		name string
		sql  string
	}{
		{name: "pragma", sql: "SELECT COUNT(*) FROM total_sales_metrics; PRAGMA user_version=77"},
		{name: "attach", sql: fmt.Sprintf("SELECT 1 FROM total_sales_metrics; ATTACH DATABASE '%s' AS other", attached)},
		{name: "vacuum into", sql: fmt.Sprintf("SELECT 1 FROM total_sales_metrics; VACUUM INTO '%s'", attached)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ExecuteRaw(ctx, tt.sql)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeUnsafeSQL))
		})
	}

	version, err := p.ExecuteRaw(ctx, "SELECT user_version FROM pragma_user_version")
	require.NoError(t, err)
	require.Equal(t, 1, version.Count)
	assert.EqualValues(t, 0, version.Results[0]["user_version"])

	_, statErr := os.Stat(attached)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAnalyze(t *testing.T) {
	p := newTestProcessor(newFakeExecutor(), nil, nil, DefaultConfig())
	ctx := context.Background()

	analysis, err := p.Analyze(ctx, "Which product had the highest CPC?", "")
	require.NoError(t, err)
	assert.Equal(t, plannedSQL("Which product had the highest CPC?"), analysis.SQL)
	assert.Equal(t, SourceFallback, analysis.Source)
	assert.True(t, analysis.Validation.OK)

	analysis, err = p.Analyze(ctx, "", "SELECT * FROM ad_sales_metrics ORDER BY date")
	require.NoError(t, err)
	assert.Equal(t, Source(""), analysis.Source)
	assert.Len(t, analysis.Suggestions, 2)

	_, err = p.Analyze(ctx, "total -- sales", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidQuestion))
}

func TestAskBatch(t *testing.T) {
	exec := newFakeExecutor()
	exec.fallback = rowsOf([]string{"total_sales"}, Row{"total_sales": 1.0})
	p := newTestProcessor(exec, nil, nil, DefaultConfig())

	batch, err := p.AskBatch(context.Background(), []QueryRequest{
		{Question: "What is my total sales?"},
		{Question: "sales; DROP TABLE x"},
		{Question: "How many products are eligible?"},
	})
	require.NoError(t, err)

	require.Len(t, batch.BatchResults, 3)
	assert.Equal(t, 2, batch.SuccessfulQueries)
	assert.Equal(t, 1, batch.FailedQueries)
	for i, item := range batch.BatchResults {
		assert.Equal(t, i, item.QueryIndex)
	}
	assert.True(t, batch.BatchResults[0].Success)
	assert.False(t, batch.BatchResults[1].Success)
	assert.Contains(t, batch.BatchResults[1].Error, "harmful")
	assert.Equal(t, plannedSQL("How many products are eligible?"), batch.BatchResults[2].SQLQuery)
}

func TestAskBatch_Limit(t *testing.T) {
	p := newTestProcessor(newFakeExecutor(), nil, nil, DefaultConfig())

	reqs := make([]QueryRequest, DefaultMaxBatchSize+1)
	for i := range reqs {
		reqs[i] = QueryRequest{Question: "What is my total sales?"}
	}
	_, err := p.AskBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBatchLimit))

	batch, err := p.AskBatch(context.Background(), reqs[:DefaultMaxBatchSize])
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxBatchSize, batch.SuccessfulQueries)
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, "unsafe_sql", errorTypeOf(errors.NewUnsafeSQLError([]string{"x"})))
	assert.Equal(t, "canceled", errorTypeOf(context.Canceled))
	assert.Equal(t, "internal", errorTypeOf(fmt.Errorf("boom")))

	assert.Equal(t, "Too many questions in batch: Received 11 questions, the maximum is 10",
		errorMessage(errors.NewBatchLimitError(11, 10)))
	assert.Equal(t, "boom", errorMessage(fmt.Errorf("boom")))

	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "héé...", Truncate("héééé", 3))
	assert.Equal(t, "日本", Truncate("日本", 2))
}

func TestPipeline_SeededStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping store-backed pipeline test in short mode")
	}

	store := database.OpenTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Seed(ctx, database.GenerateSeedData(database.DefaultSeedOptions)))

	p := newTestProcessor(store, nil, nil, DefaultConfig())

	questions := []struct {
		question string
		intent   Intent
	}{
		{"What is my total sales?", IntentTotalSales},
		{"Calculate the Return on Ad Spend (ROAS)", IntentROAS},
		{"Which product had the highest CPC?", IntentCPCHighest},
		{"Show me the cost per click by product", IntentCPC},
		{"Show me the top 5 products", IntentTopProducts},
		{"What's the conversion rate by product?", IntentConversionRate},
		{"How many products are eligible?", IntentEligibility},
		{"How many rows are there?", IntentGeneric},
	}

	for _, tt := range questions {
		t.Run(tt.question, func(t *testing.T) {
			resp, err := p.Ask(ctx, &QueryRequest{Question: tt.question})
			require.NoError(t, err)
			assert.Equal(t, tt.intent, resp.Intent)
			assert.Equal(t, SourceFallback, resp.SQLSource)
			assert.Positive(t, resp.DataPoints)
			assert.NotContains(t, resp.Response, "No data found")
			assert.NotNil(t, resp.ChartData)
		})
	}

	expected, err := store.Query(ctx, "SELECT SUM(total_sales) AS s FROM total_sales_metrics")
	require.NoError(t, err)
	resp, err := p.Ask(ctx, &QueryRequest{Question: "What is my total sales?"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, FormatCurrency(expected.Rows[0]["s"].(float64)))
}
