package main

import (
	"database/sql"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/config"
	"github.com/seanankenbruck/ecommerce-insights/internal/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(
		newMigrateDirectionCmd(database.MigrateUp, "Apply all pending migrations"),
		newMigrateDirectionCmd(database.MigrateDown, "Roll back all migrations"),
		newMigrateVersionCmd(),
		newMigrateHistoryCmd(),
	)
	return cmd
}

func newMigrateDirectionCmd(direction database.MigrationDirection, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			pterm.DefaultSection.Println("Running Database Migrations")
			pterm.Info.Printf("Database: %s\n", cfg.Database.Path)

			store, err := openStoreNoMigrate(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := database.Migrate(store.DB(), direction)
			if err != nil {
				return err
			}
			if !status.Applied {
				pterm.Info.Println("No changes: schema already at target version")
			} else {
				pterm.Success.Printf("Migrations %s complete\n", direction)
			}
			printStatus(status)
			return nil
		},
	}
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStoreNoMigrate(configFrom(cmd))
			if err != nil {
				return err
			}
			defer store.Close()

			status, err := database.MigrationVersion(store.DB())
			if err != nil {
				return err
			}
			printStatus(status)
			return nil
		},
	}
}

func newMigrateHistoryCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Apply the question history schema to Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = configFrom(cmd).History.DSN
			}
			if dsn == "" {
				return fmt.Errorf("no history database configured: set HISTORY_DATABASE_URL or --dsn")
			}

			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("failed to open history database: %w", err)
			}
			defer db.Close()
			if err := db.PingContext(cmd.Context()); err != nil {
				return fmt.Errorf("failed to connect to history database: %w", err)
			}

			if err := database.RunHistoryMigrations(db); err != nil {
				return err
			}
			pterm.Success.Println("History schema is up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres connection string (overrides HISTORY_DATABASE_URL)")
	return cmd
}

func openStoreNoMigrate(cfg *config.Config) (*database.Store, error) {
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	return app.OpenStore(dbCfg, cliLogger(cfg))
}

func printStatus(status *database.MigrationStatus) {
	if status.Version == 0 {
		pterm.Info.Println("Schema version: none")
		return
	}
	if status.Dirty {
		pterm.Warning.Printf("Schema version: %d (dirty)\n", status.Version)
		return
	}
	pterm.Info.Printf("Schema version: %d\n", status.Version)
}
