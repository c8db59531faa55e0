package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacktake/stacktake/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Build info, injected by Execute.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stacktake",
		Short: "Stacktake - Cloud Resource Extraction Engine",
		Long: `Stacktake orchestrates cloud resource extraction jobs: it resolves
extractors against selection criteria, runs them under bounded concurrency,
and streams the produced artifacts in batches to a delivery transport.

Features:
  - Provider/service/region selection criteria with passthrough filters
  - Bounded concurrent extraction with per-call timeouts
  - Count-based batching with at-least-once delivery
  - HTTP, object store, SFTP, and local directory transports
  - Durable job history in SQLite`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newExtractorsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig loads the config file named by --config, or the defaults when
// none is given. --verbose forces debug logging either way.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}
