package history

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/seanankenbruck/ecommerce-insights/internal/database"
	"github.com/seanankenbruck/ecommerce-insights/internal/errors"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
	"github.com/seanankenbruck/ecommerce-insights/internal/processor"
)

const (
	DefaultSimilarLimit   = 5
	MaxSimilarLimit       = 50
	DefaultMinSimilarity  = 0.5
	connectTimeout        = 5 * time.Second
	undefinedTableSQLCode = "42P01"
)

// Entry is one answered question
type Entry struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql_query"`
	Source     string    `json:"sql_source"`
	Intent     string    `json:"intent"`
	RowCount   int       `json:"row_count"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity,omitempty"`
}

// Store keeps answered questions in Postgres with a pgvector embedding
type Store struct {
	db     *sql.DB
	logger *observability.Logger
}

// Open connects to Postgres and, when migrate is set, applies the history
// schema
func Open(dsn string, migrate bool, logger *observability.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.NewHistoryDisabledError()
	}
	if logger == nil {
		logger = observability.NewLogger("history")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.NewDatabaseConnectionError(err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if migrate {
		if err := database.RunHistoryMigrations(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an existing connection
func NewStore(db *sql.DB, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{db: db, logger: logger}
}

// Ping tests the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores an answered question
func (s *Store) Record(ctx context.Context, rec processor.QuestionRecord) error {
	start := time.Now()
	embedding := Embed(rec.Question)

	var vector interface{}
	if !isZero(embedding) {
		vector = pgvector.NewVector(embedding)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_history (id, question, sql_query, source, intent, row_count, duration_ms, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		uuid.New().String(),
		rec.Question,
		rec.SQL,
		string(rec.Source),
		rec.Intent.String(),
		rec.RowCount,
		rec.Duration.Milliseconds(),
		vector,
		createdAt,
	)
	observability.RecordDBMetrics("history_insert", time.Since(start), err)
	if err != nil {
		return classify(err, "recording question")
	}

	s.logger.Debug(ctx, "Question recorded", map[string]interface{}{
		"intent": rec.Intent.String(),
		"rows":   rec.RowCount,
	})
	return nil
}

// FindSimilar returns past questions ordered by cosine similarity to question
func (s *Store) FindSimilar(ctx context.Context, question string, limit int) ([]Entry, error) {
	embedding := Embed(question)
	if isZero(embedding) {
		return nil, errors.NewInvalidInputError("q", "question has no searchable words")
	}
	limit = clampLimit(limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, sql_query, source, intent, row_count, duration_ms, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM question_history
		WHERE embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgvector.NewVector(embedding), DefaultMinSimilarity, limit,
	)
	observability.RecordDBMetrics("history_similar", time.Since(start), err)
	if err != nil {
		return nil, classify(err, "finding similar questions")
	}
	defer rows.Close()

	return scanEntries(rows, true)
}

// Recent returns the latest answered questions
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, sql_query, source, intent, row_count, duration_ms, created_at
		FROM question_history
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err, "listing recent questions")
	}
	defer rows.Close()

	return scanEntries(rows, false)
}

func scanEntries(rows *sql.Rows, withSimilarity bool) ([]Entry, error) {
	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		dest := []interface{}{&e.ID, &e.Question, &e.SQL, &e.Source, &e.Intent, &e.RowCount, &e.DurationMs, &e.CreatedAt}
		if withSimilarity {
			dest = append(dest, &e.Similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSimilarLimit
	}
	if limit > MaxSimilarLimit {
		return MaxSimilarLimit
	}
	return limit
}

// classify turns a missing schema into an actionable error
func classify(err error, operation string) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && string(pqErr.Code) == undefinedTableSQLCode {
		return errors.NewDatabaseQueryError(err, operation).
			WithSuggestion("Run 'insightsctl migrate history' or set HISTORY_AUTO_MIGRATE=true.")
	}
	return errors.NewDatabaseQueryError(err, operation)
}
