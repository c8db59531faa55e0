package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacktake/stacktake/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Load and validate a configuration file without running anything.

The path argument takes precedence over --config; with neither, the
built-in defaults are validated.`,
		Example: `  stacktake validate stacktake.yaml
  stacktake validate --config /etc/stacktake/config.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}

			var (
				cfg *config.Config
				err error
			)
			if path != "" {
				cfg, err = config.Load(path)
			} else {
				cfg = config.Default()
				err = cfg.Validate()
			}
			if err != nil {
				return err
			}

			fmt.Println("Configuration is valid.")
			fmt.Printf("  transport: %s\n", cfg.Transport.Type)
			if cfg.History.Enabled {
				fmt.Printf("  history:   %s\n", cfg.History.Path)
			} else {
				fmt.Println("  history:   disabled")
			}
			fmt.Printf("  workers:   %d\n", cfg.Engine.MaxConcurrentExtractors)
			return nil
		},
	}

	return cmd
}
