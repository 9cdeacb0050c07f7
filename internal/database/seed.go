package database

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// SeedOptions controls the synthetic data generator
type SeedOptions struct {
	Products  int
	Days      int
	StartDate time.Time
	Seed      int64
}

// DefaultSeedOptions generates a month of data for 25 products
var DefaultSeedOptions = SeedOptions{
	Products:  25,
	Days:      30,
	StartDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	Seed:      42,
}

// SeedData is a generated, internally consistent data set
type SeedData struct {
	Eligibility []EligibilityRecord
	AdSales     []AdSalesRecord
	TotalSales  []TotalSalesRecord
}

var ineligibleReasons = []string{
	"Product is out of stock",
	"Listing is missing required attributes",
	"Category is restricted for advertising",
}

// GenerateSeedData builds deterministic data for the given options. The same
// options always yield the same records.
func GenerateSeedData(opts SeedOptions) *SeedData {
	if opts.Products <= 0 {
		opts.Products = DefaultSeedOptions.Products
	}
	if opts.Days <= 0 {
		opts.Days = DefaultSeedOptions.Days
	}
	if opts.StartDate.IsZero() {
		opts.StartDate = DefaultSeedOptions.StartDate
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	data := &SeedData{}

	for p := 0; p < opts.Products; p++ {
		itemID := int64(1000 + p)
		basePrice := 5 + rng.Float64()*95
		popularity := 0.5 + rng.Float64()*2
		eligible := rng.Float64() > 0.2

		rec := EligibilityRecord{
			CheckedAt: opts.StartDate.Add(time.Duration(rng.Intn(24)) * time.Hour).Format("2006-01-02 15:04:05"),
			ItemID:    itemID,
			Eligible:  eligible,
			Message:   "",
		}
		if !eligible {
			rec.Message = ineligibleReasons[rng.Intn(len(ineligibleReasons))]
		}
		data.Eligibility = append(data.Eligibility, rec)

		for d := 0; d < opts.Days; d++ {
			date := opts.StartDate.AddDate(0, 0, d).Format(dateLayout)

			units := int64(math.Round(popularity * (5 + rng.Float64()*20)))
			data.TotalSales = append(data.TotalSales, TotalSalesRecord{
				Date:              date,
				ItemID:            itemID,
				TotalSales:        round2(float64(units) * basePrice),
				TotalUnitsOrdered: units,
			})

			if !eligible {
				continue
			}
			impressions := int64(200 + rng.Intn(2000))
			clicks := int64(float64(impressions) * (0.01 + rng.Float64()*0.05))
			adUnits := int64(float64(clicks) * (0.02 + rng.Float64()*0.15))
			if adUnits > units {
				adUnits = units
			}
			data.AdSales = append(data.AdSales, AdSalesRecord{
				Date:        date,
				ItemID:      itemID,
				AdSales:     round2(float64(adUnits) * basePrice),
				Impressions: impressions,
				AdSpend:     round2(float64(clicks) * (0.2 + rng.Float64()*1.3)),
				Clicks:      clicks,
				UnitsSold:   adUnits,
			})
		}
	}

	return data
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Seed writes the data set into the store
func (s *Store) Seed(ctx context.Context, data *SeedData) error {
	if err := s.InsertEligibility(ctx, data.Eligibility); err != nil {
		return fmt.Errorf("failed to seed eligibility: %w", err)
	}
	if err := s.InsertTotalSales(ctx, data.TotalSales); err != nil {
		return fmt.Errorf("failed to seed total sales: %w", err)
	}
	if err := s.InsertAdSales(ctx, data.AdSales); err != nil {
		return fmt.Errorf("failed to seed ad sales: %w", err)
	}
	return nil
}
