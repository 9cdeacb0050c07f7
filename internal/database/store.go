// Package database provides the SQLite metrics store, its schema description
// and embedded migrations.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

const (
	defaultBusyTimeoutMs = 5000
	defaultMaxOpenConns  = 4
)

// Config holds SQLite connection settings
type Config struct {
	Path          string
	MaxOpenConns  int
	BusyTimeoutMs int
}

// Row is one result row keyed by column name
type Row = map[string]interface{}

// ResultSet is an ordered sequence of rows plus the column order reported
// by the driver
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows
func (rs ResultSet) Len() int {
	return len(rs.Rows)
}

// Empty reports whether the result has no rows
func (rs ResultSet) Empty() bool {
	return len(rs.Rows) == 0
}

// ColumnNames returns the column order. Sets built by hand without Columns
// fall back to the first row's keys in sorted order.
func (rs ResultSet) ColumnNames() []string {
	if len(rs.Columns) > 0 || len(rs.Rows) == 0 {
		return rs.Columns
	}
	cols := make([]string, 0, len(rs.Rows[0]))
	for k := range rs.Rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// NewResultSet builds a ResultSet from explicit columns and rows
func NewResultSet(columns []string, rows ...Row) ResultSet {
	return ResultSet{Columns: columns, Rows: rows}
}

// Store is the SQLite-backed relational executor. Query runs on a separate
// query-only pool; seeding and migrations use the writable one.
type Store struct {
	db     *sql.DB
	reader *sql.DB
	logger *observability.Logger
}

// Open opens the SQLite file at cfg.Path and verifies the connection
func Open(cfg Config, logger *observability.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = defaultBusyTimeoutMs
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	// the writable pool opens first so the file exists in WAL mode before
	// the reader attaches
	db, err := openPool(buildDSN(cfg), cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	reader, err := openPool(buildReaderDSN(cfg), cfg.MaxOpenConns)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, reader: reader, logger: logger.Named("database")}, nil
}

func openPool(dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildDSN sets WAL journaling and a busy timeout so concurrent readers do
// not fail while the seed command writes
func buildDSN(cfg Config) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeoutMs))
	params.Set("_synchronous", "NORMAL")
	return "file:" + cfg.Path + "?" + params.Encode()
}

// buildReaderDSN sets PRAGMA query_only on every connection, so any write
// reaching Query fails in SQLite itself
func buildReaderDSN(cfg Config) string {
	params := url.Values{}
	params.Set("_busy_timeout", strconv.Itoa(cfg.BusyTimeoutMs))
	params.Set("_query_only", "true")
	return "file:" + cfg.Path + "?" + params.Encode()
}

// DB exposes the underlying pool for migrations
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes both pools
func (s *Store) Close() error {
	rerr := s.reader.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Ping tests the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Query runs a read statement on the query-only pool and returns
// normalized rows
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (ResultSet, error) {
	start := time.Now()
	rs, err := s.query(ctx, query, args...)
	observability.RecordDBMetrics("query", time.Since(start), err)
	if err != nil {
		s.logger.Debug(ctx, "Query failed", map[string]interface{}{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	return rs, err
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (ResultSet, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to read columns: %w", err)
	}

	result := ResultSet{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return ResultSet{}, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}

	return result, nil
}

// normalize maps driver values onto the scalar set the pipeline handles:
// float64, int64, string, bool and nil
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// TableNames lists user tables, excluding SQLite internals and the
// migration bookkeeping table
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableCounts returns the row count of every described table that exists
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	present, err := s.TableNames(ctx)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(present))
	for _, name := range present {
		exists[name] = true
	}

	counts := make(map[string]int64)
	for _, t := range Tables {
		if !exists[t.Name] {
			continue
		}
		var n int64
		// table names come from the static description, never from input
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

// DataStats summarizes what has been loaded
type DataStats struct {
	Counts         map[string]int64 `json:"counts"`
	UniqueProducts int64            `json:"unique_products"`
	FirstDate      string           `json:"first_date,omitempty"`
	LastDate       string           `json:"last_date,omitempty"`
}

// Stats returns table counts, distinct products and the sales date range
func (s *Store) Stats(ctx context.Context) (*DataStats, error) {
	counts, err := s.TableCounts(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DataStats{Counts: counts}
	if _, ok := counts[TableTotalSales]; !ok {
		return stats, nil
	}

	var first, last sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT item_id), MIN(date), MAX(date) FROM total_sales_metrics
	`).Scan(&stats.UniqueProducts, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to read data range: %w", err)
	}
	stats.FirstDate = first.String
	stats.LastDate = last.String

	return stats, nil
}
