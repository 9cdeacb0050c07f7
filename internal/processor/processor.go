package processor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/llm"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const (
	DefaultQueryTimeout       = 30 * time.Second
	DefaultCacheTTL           = 5 * time.Minute
	DefaultSlowQueryThreshold = 5 * time.Second
	DefaultMaxBatchSize       = 10

	batchConcurrency = 4
	historyTimeout   = 5 * time.Second
)

// Executor runs read-only SQL and returns normalized rows
type Executor interface {
	Query(ctx context.Context, query string, args ...interface{}) (ResultSet, error)
}

// QuestionRecord is one successfully answered question
type QuestionRecord struct {
	Question  string
	SQL       string
	Source    Source
	Intent    Intent
	RowCount  int
	Duration  time.Duration
	CreatedAt time.Time
}

// HistoryRecorder stores answered questions. Recording is best effort.
type HistoryRecorder interface {
	Record(ctx context.Context, rec QuestionRecord) error
}

// Config holds pipeline limits
type Config struct {
	MaxQuestionLength    int
	MaxSQLLength         int
	QueryTimeout         time.Duration
	GenerationTimeout    time.Duration
	CacheTTL             time.Duration
	SlowQueryThreshold   time.Duration
	MaxChartItems        int
	MaxBatchSize         int
	RetryWithPlanner     bool
	NarrativeEnabled     bool
	NarrativeTemperature float64
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		MaxQuestionLength:    DefaultMaxQuestionLength,
		MaxSQLLength:         DefaultMaxSQLLength,
		QueryTimeout:         DefaultQueryTimeout,
		GenerationTimeout:    DefaultGenerationTimeout,
		CacheTTL:             DefaultCacheTTL,
		SlowQueryThreshold:   DefaultSlowQueryThreshold,
		MaxChartItems:        DefaultMaxChartItems,
		MaxBatchSize:         DefaultMaxBatchSize,
		RetryWithPlanner:     true,
		NarrativeEnabled:     true,
		NarrativeTemperature: DefaultNarrativeTemperature,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = d.SlowQueryThreshold
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	return c
}

// QueryRequest is an incoming question
type QueryRequest struct {
	Question        string `json:"question" binding:"required"`
	IncludeChart    *bool  `json:"include_chart,omitempty"`
	UseLLMNarrative *bool  `json:"use_llm_narrative,omitempty"`
	Stream          bool   `json:"stream,omitempty"`
}

func (r *QueryRequest) wantChart() bool {
	return r.IncludeChart == nil || *r.IncludeChart
}

func (r *QueryRequest) wantModelNarrative() bool {
	return r.UseLLMNarrative == nil || *r.UseLLMNarrative
}

// EnhancedFeatures summarizes what the response carries
type EnhancedFeatures struct {
	ChartType        ChartType `json:"chart_type,omitempty"`
	HasVisualization bool      `json:"has_visualization"`
	ModelNarrative   bool      `json:"model_narrative"`
}

// QueryMetadata describes the request and its execution
type QueryMetadata struct {
	QuestionLength int       `json:"question_length"`
	SQLLength      int       `json:"sql_length"`
	ResultCount    int       `json:"result_count"`
	Outcome        string    `json:"interpret_outcome"`
	Retried        bool      `json:"retried_with_planner"`
	Timestamp      time.Time `json:"timestamp"`
}

// QueryResponse is the answer to one question
type QueryResponse struct {
	Question         string           `json:"question"`
	Response         string           `json:"response"`
	NarrativeSource  NarrativeSource  `json:"narrative_source"`
	SQLQuery         string           `json:"sql_query"`
	SQLSource        Source           `json:"sql_source"`
	Intent           Intent           `json:"intent"`
	Columns          []string         `json:"columns"`
	Results          []Row            `json:"results"`
	Shape            *ResultShape     `json:"shape,omitempty"`
	ChartData        *ChartSpec       `json:"chart_data"`
	ExecutionTime    float64          `json:"execution_time"`
	DataPoints       int              `json:"data_points"`
	Cached           bool             `json:"cached"`
	Warnings         []string         `json:"warnings,omitempty"`
	EnhancedFeatures EnhancedFeatures `json:"enhanced_features"`
	QueryMetadata    QueryMetadata    `json:"query_metadata"`
}

// Processor runs the question pipeline: sanitize, interpret, validate,
// execute, then shape, bind and narrate
type Processor struct {
	sanitizer   *QuestionSanitizer
	planner     *Planner
	interpreter *Interpreter
	validator   *SafetyValidator
	shapes      *ShapeClassifier
	binder      *Binder
	narrator    *Narrator
	executor    Executor
	cache       *redis.Client
	recorder    HistoryRecorder
	cfg         Config
	logger      *observability.Logger
	pending     sync.WaitGroup
}

// New creates a processor. client and cache may be nil: questions are then
// answered by the planner and nothing is cached.
func New(executor Executor, client llm.Client, cache *redis.Client, cfg Config, logger *observability.Logger) *Processor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NewLogger("query-processor")
	}

	classifier := NewIntentClassifier()
	planner := NewPlanner(classifier)

	var narrativeClient llm.Client
	if cfg.NarrativeEnabled {
		narrativeClient = client
	}

	return &Processor{
		sanitizer:   NewQuestionSanitizer(cfg.MaxQuestionLength),
		planner:     planner,
		interpreter: NewInterpreter(client, planner, cfg.GenerationTimeout, logger.Named("interpreter")),
		validator:   NewSafetyValidator(cfg.MaxSQLLength),
		shapes:      NewShapeClassifier(),
		binder:      NewBinder(cfg.MaxChartItems),
		narrator:    NewNarrator(narrativeClient, NewFormatter(classifier), cfg.NarrativeTemperature, cfg.GenerationTimeout, logger.Named("narrator")),
		executor:    executor,
		cache:       cache,
		cfg:         cfg,
		logger:      logger,
	}
}

// SetHistoryRecorder enables recording of answered questions
func (p *Processor) SetHistoryRecorder(r HistoryRecorder) {
	p.recorder = r
}

// Validator exposes the safety validator
func (p *Processor) Validator() *SafetyValidator {
	return p.validator
}

// Interpreter exposes the interpreter
func (p *Processor) Interpreter() *Interpreter {
	return p.interpreter
}

// Config returns the effective configuration
func (p *Processor) Config() Config {
	return p.cfg
}

// Close waits for pending history writes
func (p *Processor) Close() {
	p.pending.Wait()
}

// Ask answers one question
func (p *Processor) Ask(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	start := time.Now()

	var (
		response   *QueryResponse
		processErr error
		errorType  string
	)

	defer func() {
		duration := time.Since(start)
		cached := response != nil && response.Cached
		source := ""
		if response != nil {
			source = string(response.SQLSource)
		}
		observability.RecordQuestionMetrics(duration, processErr == nil, cached, source, errorType)

		if processErr != nil {
			p.logger.Error(ctx, "Question processing failed", processErr, map[string]interface{}{
				"question":    req.Question,
				"duration_ms": duration.Milliseconds(),
				"error_type":  errorType,
			})
			return
		}
		p.logger.Info(ctx, "Question processed", map[string]interface{}{
			"question":    req.Question,
			"duration_ms": duration.Milliseconds(),
			"cache_hit":   cached,
			"sql_source":  source,
			"rows":        response.DataPoints,
		})
	}()

	question, err := p.sanitizer.Sanitize(req.Question)
	if err != nil {
		errorType = "invalid_question"
		processErr = err
		return nil, processErr
	}

	cacheKey := p.cacheKey(question, req)
	if cached, err := p.getCachedResult(ctx, cacheKey); err == nil {
		cached.Cached = true
		cached.ExecutionTime = time.Since(start).Seconds()
		response = cached
		return response, nil
	}

	interp := p.interpreter.Interpret(ctx, question)
	if err := ctx.Err(); err != nil {
		errorType = "canceled"
		processErr = err
		return nil, processErr
	}

	exec, err := p.executeCandidate(ctx, interp.Candidate)
	if err != nil {
		errorType = errorTypeOf(err)
		processErr = err
		return nil, processErr
	}

	var (
		shape     *ResultShape
		chart     *ChartSpec
		narrative Narrative
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s, ok := p.shapes.Classify(question, exec.Rows); ok {
			shape = &s
			if req.wantChart() {
				chart = p.binder.Bind(s, question, exec.Rows)
			}
		}
		return nil
	})
	g.Go(func() error {
		narrative = p.narrator.Narrate(gctx, question, exec.Candidate, exec.Rows, req.wantModelNarrative())
		return nil
	})
	_ = g.Wait()

	elapsed := time.Since(start)
	response = &QueryResponse{
		Question:        question,
		Response:        narrative.Text,
		NarrativeSource: narrative.Source,
		SQLQuery:        exec.Candidate.SQL,
		SQLSource:       exec.Candidate.Source,
		Intent:          exec.Candidate.Intent,
		Columns:         exec.Rows.ColumnNames(),
		Results:         exec.Rows.Rows,
		Shape:           shape,
		ChartData:       chart,
		ExecutionTime:   elapsed.Seconds(),
		DataPoints:      exec.Rows.Len(),
		Warnings:        exec.Warnings,
		EnhancedFeatures: EnhancedFeatures{
			HasVisualization: chart != nil,
			ModelNarrative:   narrative.Source == NarrativeModel,
		},
		QueryMetadata: QueryMetadata{
			QuestionLength: len(question),
			SQLLength:      len(exec.Candidate.SQL),
			ResultCount:    exec.Rows.Len(),
			Outcome:        string(interp.Outcome),
			Retried:        exec.Retried,
			Timestamp:      time.Now().UTC(),
		},
	}
	if chart != nil {
		response.EnhancedFeatures.ChartType = chart.Type
	}

	if elapsed > p.cfg.SlowQueryThreshold {
		observability.GetGlobalMetrics().Inc(observability.MetricSlowQueries, nil)
		p.logger.Warn(ctx, "Slow question", map[string]interface{}{
			"question":    question,
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	if err := p.cacheResult(ctx, cacheKey, response); err != nil {
		p.logger.Warn(ctx, "Failed to cache query result", map[string]interface{}{
			"error": err.Error(),
		})
	}

	p.recordHistory(ctx, QuestionRecord{
		Question:  question,
		SQL:       exec.Candidate.SQL,
		Source:    exec.Candidate.Source,
		Intent:    exec.Candidate.Intent,
		RowCount:  exec.Rows.Len(),
		Duration:  elapsed,
		CreatedAt: time.Now().UTC(),
	})

	return response, nil
}

// Execution is the outcome of running a validated candidate
type Execution struct {
	Candidate CandidateSQL
	Rows      ResultSet
	Warnings  []string
	Retried   bool
}

// executeCandidate validates and runs a candidate. Generated SQL that fails
// to execute is retried once with the planner's query.
func (p *Processor) executeCandidate(ctx context.Context, candidate CandidateSQL) (*Execution, error) {
	rows, warnings, err := p.validateAndRun(ctx, candidate.SQL)
	if err == nil {
		return &Execution{Candidate: candidate, Rows: rows, Warnings: warnings}, nil
	}

	retryable := candidate.Source == SourceGenerated &&
		p.cfg.RetryWithPlanner &&
		errors.HasCode(err, errors.ErrCodeQueryExecution)
	if !retryable {
		return nil, err
	}

	observability.GetGlobalMetrics().Inc(observability.MetricExecutionRetries, nil)
	observability.RecordFallback("execution_failed")
	p.logger.Warn(ctx, "Generated SQL failed, retrying with planner", map[string]interface{}{
		"sql":   candidate.SQL,
		"error": err.Error(),
	})

	planned := p.planner.PlanIntent(candidate.Intent)
	rows, warnings, retryErr := p.validateAndRun(ctx, planned.SQL)
	if retryErr != nil {
		return nil, retryErr
	}
	return &Execution{Candidate: planned, Rows: rows, Warnings: warnings, Retried: true}, nil
}

func (p *Processor) validateAndRun(ctx context.Context, sql string) (ResultSet, []string, error) {
	verdict := p.validator.Validate(sql)
	if !verdict.OK {
		observability.GetGlobalMetrics().Inc(observability.MetricUnsafeSQL, nil)
		p.logger.Warn(ctx, "Rejected unsafe SQL", map[string]interface{}{
			"sql":        sql,
			"violations": verdict.Violations,
		})
		return ResultSet{}, nil, verdict.Err()
	}

	rows, err := p.run(ctx, sql)
	if err != nil {
		return ResultSet{}, nil, err
	}
	return rows, verdict.Warnings, nil
}

func (p *Processor) run(ctx context.Context, sql string) (ResultSet, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	rows, err := p.executor.Query(queryCtx, sql)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(queryCtx.Err(), context.DeadlineExceeded) {
			return ResultSet{}, errors.NewQueryTimeoutError(err, p.cfg.QueryTimeout.String())
		}
		if stderrors.Is(err, context.Canceled) {
			return ResultSet{}, err
		}
		return ResultSet{}, errors.NewQueryExecutionError(err, sql)
	}
	return rows, nil
}

// RawResult is the answer to a directly submitted SQL statement
type RawResult struct {
	SQLQuery      string    `json:"sql_query"`
	Columns       []string  `json:"columns"`
	Results       []Row     `json:"results"`
	Count         int       `json:"count"`
	ExecutionTime float64   `json:"execution_time"`
	Timestamp     time.Time `json:"timestamp"`
	Warnings      []string  `json:"warnings,omitempty"`
}

// ExecuteRaw validates and runs caller supplied SQL
func (p *Processor) ExecuteRaw(ctx context.Context, sql string) (*RawResult, error) {
	start := time.Now()
	rows, warnings, err := p.validateAndRun(ctx, sql)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	p.logger.Info(ctx, "Raw SQL executed", map[string]interface{}{
		"sql":         Truncate(sql, 100),
		"duration_ms": elapsed.Milliseconds(),
		"rows":        rows.Len(),
	})

	return &RawResult{
		SQLQuery:      sql,
		Columns:       rows.ColumnNames(),
		Results:       rows.Rows,
		Count:         rows.Len(),
		ExecutionTime: elapsed.Seconds(),
		Timestamp:     time.Now().UTC(),
		Warnings:      warnings,
	}, nil
}

// Analyze reviews sql, or the SQL the question would produce when sql is
// empty, without executing it
func (p *Processor) Analyze(ctx context.Context, question, sql string) (*SQLAnalysis, error) {
	source := Source("")
	if strings.TrimSpace(sql) == "" {
		cleaned, err := p.sanitizer.Sanitize(question)
		if err != nil {
			return nil, err
		}
		interp := p.interpreter.Interpret(ctx, cleaned)
		question = cleaned
		sql = interp.Candidate.SQL
		source = interp.Candidate.Source
	}
	analysis := AnalyzeSQL(question, sql, p.validator)
	analysis.Source = source
	return &analysis, nil
}

// BatchItem is the result of one question in a batch
type BatchItem struct {
	QueryIndex int        `json:"query_index"`
	Question   string     `json:"question"`
	Response   string     `json:"response,omitempty"`
	SQLQuery   string     `json:"sql_query,omitempty"`
	Results    []Row      `json:"results,omitempty"`
	ChartData  *ChartSpec `json:"chart_data,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// BatchResponse aggregates a batch
type BatchResponse struct {
	BatchResults       []BatchItem `json:"batch_results"`
	TotalExecutionTime float64     `json:"total_execution_time"`
	SuccessfulQueries  int         `json:"successful_queries"`
	FailedQueries      int         `json:"failed_queries"`
	Timestamp          time.Time   `json:"timestamp"`
}

// AskBatch answers up to MaxBatchSize questions concurrently. A failing
// question is reported in its item and does not fail the batch.
func (p *Processor) AskBatch(ctx context.Context, reqs []QueryRequest) (*BatchResponse, error) {
	if len(reqs) > p.cfg.MaxBatchSize {
		return nil, errors.NewBatchLimitError(len(reqs), p.cfg.MaxBatchSize)
	}

	start := time.Now()
	items := make([]BatchItem, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i := range reqs {
		i := i
		req := reqs[i]
		g.Go(func() error {
			item := BatchItem{QueryIndex: i, Question: req.Question}
			resp, err := p.Ask(gctx, &req)
			if err != nil {
				item.Error = errorMessage(err)
			} else {
				item.Success = true
				item.Response = resp.Response
				item.SQLQuery = resp.SQLQuery
				item.Results = resp.Results
				item.ChartData = resp.ChartData
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResponse{
		BatchResults:       items,
		TotalExecutionTime: time.Since(start).Seconds(),
		Timestamp:          time.Now().UTC(),
	}
	for _, it := range items {
		if it.Success {
			out.SuccessfulQueries++
		} else {
			out.FailedQueries++
		}
	}
	return out, nil
}

func (p *Processor) recordHistory(ctx context.Context, rec QuestionRecord) {
	if p.recorder == nil {
		return
	}
	correlationID := observability.GetCorrelationID(ctx)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		hctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		hctx = observability.WithCorrelationID(hctx, correlationID)
		if err := p.recorder.Record(hctx, rec); err != nil {
			p.logger.Warn(hctx, "Failed to record question history", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

func (p *Processor) cacheKey(question string, req *QueryRequest) string {
	return fmt.Sprintf("query:%t:%t:%s", req.wantChart(), req.wantModelNarrative(), strings.ToLower(question))
}

// getCachedResult retrieves a cached response
func (p *Processor) getCachedResult(ctx context.Context, key string) (*QueryResponse, error) {
	if p.cache == nil {
		return nil, redis.Nil
	}
	cached, err := p.cache.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	var response QueryResponse
	if err := json.Unmarshal([]byte(cached), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// cacheResult stores a response for CacheTTL
func (p *Processor) cacheResult(ctx context.Context, key string, response *QueryResponse) error {
	if p.cache == nil {
		return nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return p.cache.Set(ctx, key, data, p.cfg.CacheTTL).Err()
}

func errorTypeOf(err error) string {
	if e, ok := errors.As(err); ok {
		return strings.ToLower(string(e.Code))
	}
	if stderrors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}

func errorMessage(err error) string {
	if e, ok := errors.As(err); ok {
		if e.Details != "" {
			return e.Message + ": " + e.Details
		}
		return e.Message
	}
	return err.Error()
}

// Truncate shortens s to at most n runes and marks the cut with "..."
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
