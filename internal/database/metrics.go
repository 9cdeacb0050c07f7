package database

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Summary is the headline business view
type Summary struct {
	TotalSales           float64 `json:"total_sales"`
	TotalAdSpend         float64 `json:"total_ad_spend"`
	TotalROAS            float64 `json:"total_roas"`
	TotalProducts        int64   `json:"total_products"`
	EligibleProducts     int64   `json:"eligible_products"`
	TopPerformingProduct *int64  `json:"top_performing_product"`
}

// Performance holds per-product rankings for the main advertising ratios
type Performance struct {
	TopROASProducts     []Row `json:"top_roas_products"`
	HighestCPCProducts  []Row `json:"highest_cpc_products"`
	BestConversionRates []Row `json:"best_conversion_rates"`
	BestCTRProducts     []Row `json:"best_ctr_products"`
}

// Trends holds daily series for sales and advertising
type Trends struct {
	SalesTrends []Row `json:"sales_trends"`
	AdTrends    []Row `json:"ad_trends"`
}

// ProductMetrics is the detail view of one product
type ProductMetrics struct {
	ItemID      int64 `json:"item_id"`
	Eligibility Row   `json:"eligibility"`
	SalesData   []Row `json:"sales_data"`
	AdData      []Row `json:"ad_data"`
	Summary     Row   `json:"summary"`
}

const (
	queryTopROAS = `
		SELECT item_id,
		       SUM(ad_sales) AS total_ad_sales,
		       SUM(ad_spend) AS total_ad_spend,
		       SUM(ad_sales) / NULLIF(SUM(ad_spend), 0) AS roas
		FROM ad_sales_metrics
		WHERE ad_spend > 0
		GROUP BY item_id
		ORDER BY roas DESC
		LIMIT 10`

	queryHighestCPC = `
		SELECT item_id,
		       SUM(ad_spend) AS total_spend,
		       SUM(clicks) AS total_clicks,
		       SUM(ad_spend) / NULLIF(SUM(clicks), 0) AS cpc
		FROM ad_sales_metrics
		WHERE clicks > 0
		GROUP BY item_id
		ORDER BY cpc DESC
		LIMIT 10`

	queryBestConversion = `
		SELECT item_id,
		       SUM(clicks) AS total_clicks,
		       SUM(units_sold) AS total_units,
		       (SUM(units_sold) * 100.0) / NULLIF(SUM(clicks), 0) AS conversion_rate
		FROM ad_sales_metrics
		WHERE clicks > 0
		GROUP BY item_id
		ORDER BY conversion_rate DESC
		LIMIT 10`

	queryBestCTR = `
		SELECT item_id,
		       SUM(impressions) AS total_impressions,
		       SUM(clicks) AS total_clicks,
		       (SUM(clicks) * 100.0) / NULLIF(SUM(impressions), 0) AS ctr
		FROM ad_sales_metrics
		WHERE impressions > 0
		GROUP BY item_id
		ORDER BY ctr DESC
		LIMIT 10`

	querySalesTrends = `
		SELECT date,
		       SUM(total_sales) AS daily_sales,
		       SUM(total_units_ordered) AS daily_units
		FROM total_sales_metrics
		GROUP BY date
		ORDER BY date`

	queryAdTrends = `
		SELECT date,
		       SUM(ad_sales) AS daily_ad_sales,
		       SUM(ad_spend) AS daily_ad_spend,
		       SUM(impressions) AS daily_impressions,
		       SUM(clicks) AS daily_clicks
		FROM ad_sales_metrics
		GROUP BY date
		ORDER BY date`

	queryProductSummary = `
		SELECT ts.item_id,
		       SUM(ts.total_sales) AS total_sales,
		       SUM(ts.total_units_ordered) AS total_units,
		       SUM(ads.ad_sales) AS total_ad_sales,
		       SUM(ads.ad_spend) AS total_ad_spend,
		       SUM(ads.impressions) AS total_impressions,
		       SUM(ads.clicks) AS total_clicks,
		       SUM(ads.units_sold) AS total_ad_units,
		       SUM(ads.ad_sales) / NULLIF(SUM(ads.ad_spend), 0) AS roas,
		       SUM(ads.ad_spend) / NULLIF(SUM(ads.clicks), 0) AS cpc,
		       (SUM(ads.clicks) * 100.0) / NULLIF(SUM(ads.impressions), 0) AS ctr,
		       (SUM(ads.units_sold) * 100.0) / NULLIF(SUM(ads.clicks), 0) AS conversion_rate
		FROM total_sales_metrics ts
		LEFT JOIN ad_sales_metrics ads ON ts.item_id = ads.item_id AND ts.date = ads.date
		WHERE ts.item_id = ?
		GROUP BY ts.item_id`
)

// Summary computes the headline metrics
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary

	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_sales), 0), COUNT(DISTINCT item_id) FROM total_sales_metrics`).
		Scan(&sum.TotalSales, &sum.TotalProducts)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ad_spend), 0),
		       COALESCE(SUM(CASE WHEN ad_spend > 0 THEN ad_sales END) / NULLIF(SUM(CASE WHEN ad_spend > 0 THEN ad_spend END), 0), 0)
		FROM ad_sales_metrics`).
		Scan(&sum.TotalAdSpend, &sum.TotalROAS)
	if err != nil {
		return nil, fmt.Errorf("failed to read ad totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT item_id) FROM product_eligibility WHERE eligibility = 1`).
		Scan(&sum.EligibleProducts)
	if err != nil {
		return nil, fmt.Errorf("failed to count eligible products: %w", err)
	}

	top, err := s.Query(ctx, `
		SELECT item_id, SUM(total_sales) AS sales
		FROM total_sales_metrics
		GROUP BY item_id
		ORDER BY sales DESC
		LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to find top product: %w", err)
	}
	if !top.Empty() {
		if id, ok := top.Rows[0]["item_id"].(int64); ok {
			sum.TopPerformingProduct = &id
		}
	}

	return &sum, nil
}

// Performance runs the four ranking queries concurrently
func (s *Store) Performance(ctx context.Context) (*Performance, error) {
	var perf Performance
	g, gctx := errgroup.WithContext(ctx)

	for _, q := range []struct {
		query string
		dest  *[]Row
	}{
		{queryTopROAS, &perf.TopROASProducts},
		{queryHighestCPC, &perf.HighestCPCProducts},
		{queryBestConversion, &perf.BestConversionRates},
		{queryBestCTR, &perf.BestCTRProducts},
	} {
		q := q
		g.Go(func() error {
			rs, err := s.Query(gctx, q.query)
			if err != nil {
				return err
			}
			*q.dest = rs.Rows
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read performance metrics: %w", err)
	}
	return &perf, nil
}

// Trends returns daily sales and advertising series
func (s *Store) Trends(ctx context.Context) (*Trends, error) {
	sales, err := s.Query(ctx, querySalesTrends)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales trends: %w", err)
	}
	ads, err := s.Query(ctx, queryAdTrends)
	if err != nil {
		return nil, fmt.Errorf("failed to read ad trends: %w", err)
	}
	return &Trends{SalesTrends: sales.Rows, AdTrends: ads.Rows}, nil
}

// ProductMetrics returns the detail view of one product. It returns nil
// without error when the product has no data at all.
func (s *Store) ProductMetrics(ctx context.Context, itemID int64) (*ProductMetrics, error) {
	eligibility, err := s.Query(ctx, `
		SELECT * FROM product_eligibility
		WHERE item_id = ?
		ORDER BY eligibility_datetime_utc DESC
		LIMIT 1`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read eligibility: %w", err)
	}
	sales, err := s.Query(ctx, `SELECT * FROM total_sales_metrics WHERE item_id = ? ORDER BY date`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales data: %w", err)
	}
	ads, err := s.Query(ctx, `SELECT * FROM ad_sales_metrics WHERE item_id = ? ORDER BY date`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ad data: %w", err)
	}

	if eligibility.Empty() && sales.Empty() && ads.Empty() {
		return nil, nil
	}

	summary, err := s.Query(ctx, queryProductSummary, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read product summary: %w", err)
	}

	pm := &ProductMetrics{
		ItemID:    itemID,
		SalesData: sales.Rows,
		AdData:    ads.Rows,
	}
	if !eligibility.Empty() {
		pm.Eligibility = eligibility.Rows[0]
	}
	if !summary.Empty() {
		pm.Summary = summary.Rows[0]
	}
	return pm, nil
}
