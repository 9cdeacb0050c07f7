package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/seanankenbruck/ecommerce-insights/internal/app"
	"github.com/seanankenbruck/ecommerce-insights/internal/config"
	"github.com/seanankenbruck/ecommerce-insights/internal/observability"
)

type contextKey struct{}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		dbPath  string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:           "insightsctl",
		Short:         "Manage the e-commerce metrics store and ask it questions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewDefaultLoader().Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			if verbose {
				cfg.Log.Level = "debug"
			}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite metrics store (overrides DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newAskCmd(),
		newCheckLLMCmd(),
	)
	return rootCmd
}

// configFrom returns the configuration resolved by the root command
func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(contextKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// cliLogger writes structured logs to stderr, keeping stdout for results
func cliLogger(cfg *config.Config) *observability.Logger {
	level := cfg.Log.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	return app.NewLogger("insightsctl", config.LogConfig{Level: level}).WithOutput(os.Stderr)
}
