package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

// EligibilityRecord is one advertising eligibility check
type EligibilityRecord struct {
	CheckedAt string `json:"eligibility_datetime_utc"`
	ItemID    int64  `json:"item_id"`
	Eligible  bool   `json:"eligibility"`
	Message   string `json:"message"`
}

// AdSalesRecord is one day of advertising metrics for a product
type AdSalesRecord struct {
	Date        string  `json:"date"`
	ItemID      int64   `json:"item_id"`
	AdSales     float64 `json:"ad_sales"`
	Impressions int64   `json:"impressions"`
	AdSpend     float64 `json:"ad_spend"`
	Clicks      int64   `json:"clicks"`
	UnitsSold   int64   `json:"units_sold"`
}

// TotalSalesRecord is one day of total sales for a product
type TotalSalesRecord struct {
	Date              string  `json:"date"`
	ItemID            int64   `json:"item_id"`
	TotalSales        float64 `json:"total_sales"`
	TotalUnitsOrdered int64   `json:"total_units_ordered"`
}

// RecordError describes one invalid field of a record
type RecordError struct {
	Field   string
	Message string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RecordErrors collects all problems found in one record
type RecordErrors []RecordError

func (e RecordErrors) Error() string {
	parts := make([]string, len(e))
	for i, err := range e {
		parts[i] = err.Error()
	}
	return "invalid record: " + strings.Join(parts, "; ")
}

func (e RecordErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

const dateLayout = "2006-01-02"

func validDate(s string) bool {
	if _, err := time.Parse(dateLayout, s); err == nil {
		return true
	}
	_, err := time.Parse("2006-01-02 15:04:05", s)
	return err == nil
}

// ValidateEligibility checks required fields of an eligibility record
func ValidateEligibility(r EligibilityRecord) error {
	var errs RecordErrors
	if strings.TrimSpace(r.CheckedAt) == "" {
		errs = append(errs, RecordError{"eligibility_datetime_utc", "is required"})
	}
	if r.ItemID <= 0 {
		errs = append(errs, RecordError{"item_id", "must be a positive integer"})
	}
	return errs.orNil()
}

// ValidateAdSales checks an advertising record: metrics are non-negative
// and clicks never exceed impressions
func ValidateAdSales(r AdSalesRecord) error {
	var errs RecordErrors
	if !validDate(r.Date) {
		errs = append(errs, RecordError{"date", "must be YYYY-MM-DD"})
	}
	if r.ItemID <= 0 {
		errs = append(errs, RecordError{"item_id", "must be a positive integer"})
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"ad_sales", r.AdSales},
		{"impressions", float64(r.Impressions)},
		{"ad_spend", r.AdSpend},
		{"clicks", float64(r.Clicks)},
		{"units_sold", float64(r.UnitsSold)},
	} {
		if f.value < 0 {
			errs = append(errs, RecordError{f.name, "cannot be negative"})
		}
	}
	if r.Clicks > r.Impressions {
		errs = append(errs, RecordError{"clicks", "cannot exceed impressions"})
	}
	return errs.orNil()
}

// ValidateTotalSales checks a total sales record
func ValidateTotalSales(r TotalSalesRecord) error {
	var errs RecordErrors
	if !validDate(r.Date) {
		errs = append(errs, RecordError{"date", "must be YYYY-MM-DD"})
	}
	if r.ItemID <= 0 {
		errs = append(errs, RecordError{"item_id", "must be a positive integer"})
	}
	if r.TotalSales < 0 {
		errs = append(errs, RecordError{"total_sales", "cannot be negative"})
	}
	if r.TotalUnitsOrdered < 0 {
		errs = append(errs, RecordError{"total_units_ordered", "cannot be negative"})
	}
	return errs.orNil()
}

// InsertEligibility validates and upserts eligibility records in one transaction
func (s *Store) InsertEligibility(ctx context.Context, records []EligibilityRecord) error {
	for i, r := range records {
		if err := ValidateEligibility(r); err != nil {
			return fmt.Errorf("eligibility record %d: %w", i, err)
		}
	}
	return s.insertBatch(ctx, "insert_eligibility", `
		INSERT OR REPLACE INTO product_eligibility
			(eligibility_datetime_utc, item_id, eligibility, message)
		VALUES (?, ?, ?, ?)
	`, len(records), func(stmt *sql.Stmt, i int) error {
		r := records[i]
		_, err := stmt.ExecContext(ctx, r.CheckedAt, r.ItemID, r.Eligible, r.Message)
		return err
	})
}

// InsertAdSales validates and upserts advertising records in one transaction
func (s *Store) InsertAdSales(ctx context.Context, records []AdSalesRecord) error {
	for i, r := range records {
		if err := ValidateAdSales(r); err != nil {
			return fmt.Errorf("ad sales record %d: %w", i, err)
		}
	}
	return s.insertBatch(ctx, "insert_ad_sales", `
		INSERT OR REPLACE INTO ad_sales_metrics
			(date, item_id, ad_sales, impressions, ad_spend, clicks, units_sold)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, len(records), func(stmt *sql.Stmt, i int) error {
		r := records[i]
		_, err := stmt.ExecContext(ctx, r.Date, r.ItemID, r.AdSales, r.Impressions, r.AdSpend, r.Clicks, r.UnitsSold)
		return err
	})
}

// InsertTotalSales validates and upserts total sales records in one transaction
func (s *Store) InsertTotalSales(ctx context.Context, records []TotalSalesRecord) error {
	for i, r := range records {
		if err := ValidateTotalSales(r); err != nil {
			return fmt.Errorf("total sales record %d: %w", i, err)
		}
	}
	return s.insertBatch(ctx, "insert_total_sales", `
		INSERT OR REPLACE INTO total_sales_metrics
			(date, item_id, total_sales, total_units_ordered)
		VALUES (?, ?, ?, ?)
	`, len(records), func(stmt *sql.Stmt, i int) error {
		r := records[i]
		_, err := stmt.ExecContext(ctx, r.Date, r.ItemID, r.TotalSales, r.TotalUnitsOrdered)
		return err
	})
}

func (s *Store) insertBatch(ctx context.Context, operation, query string, n int, exec func(*sql.Stmt, int) error) (err error) {
	if n == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.RecordDBMetrics(operation, time.Since(start), err)
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err = exec(stmt, i); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info(ctx, "Inserted records", map[string]interface{}{
		"operation":   operation,
		"rows":        n,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}
