package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
)

func newSeedCmd() *cobra.Command {
	opts := database.DefaultSeedOptions
	var (
		start string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load deterministic synthetic metrics into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start != "" {
				t, err := time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid --start %q: expected YYYY-MM-DD", start)
				}
				opts.StartDate = t
			}

			cfg := configFrom(cmd)
			dbCfg := cfg.Database
			dbCfg.AutoMigrate = true
			store, err := app.OpenStore(dbCfg, cliLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if !force {
				counts, err := store.TableCounts(ctx)
				if err != nil {
					return err
				}
				if counts[database.TableTotalSales] > 0 {
					pterm.Warning.Printf("Store already holds %d sales rows, use --force to seed anyway\n", counts[database.TableTotalSales])
					return nil
				}
			}

			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Seeding %d products over %d days", opts.Products, opts.Days))
			data := database.GenerateSeedData(opts)
			if err := store.Seed(ctx, data); err != nil {
				spinner.Fail("Seeding failed")
				return err
			}
			spinner.Success("Seed data loaded")

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			return renderStats(stats)
		},
	}

	cmd.Flags().IntVar(&opts.Products, "products", opts.Products, "Number of products to generate")
	cmd.Flags().IntVar(&opts.Days, "days", opts.Days, "Number of days of sales per product")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed; the same seed yields the same data")
	cmd.Flags().StringVar(&start, "start", "", "First sales date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&force, "force", false, "Seed even when the store already holds data")
	return cmd
}

func renderStats(stats *database.DataStats) error {
	data := pterm.TableData{{"Table", "Rows"}}
	for _, name := range database.DescribedTableNames() {
		if n, ok := stats.Counts[name]; ok {
			data = append(data, []string{name, fmt.Sprint(n)})
		}
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Info.Printf("%d products, %s to %s\n", stats.UniqueProducts, stats.FirstDate, stats.LastDate)
	return nil
}
