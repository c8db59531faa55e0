package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacktake/stacktake/pkg/engine"
	"github.com/stacktake/stacktake/pkg/extractors/fixture"
)

func newExtractorsCommand() *cobra.Command {
	var (
		provider    string
		services    []string
		fixturesDir string
	)

	cmd := &cobra.Command{
		Use:   "extractors",
		Short: "List registered extractors",
		Long: `List the extractors that would serve a job, optionally narrowed by
provider and service. Extractors are loaded from the fixtures directory.`,
		Example: `  # All extractors
  stacktake extractors --fixtures ./fixtures

  # Only aws storage extractors
  stacktake extractors --provider aws --service s3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := engine.NewRegistry()
			loaded, err := fixture.LoadDir(fixturesDir)
			if err != nil {
				return fmt.Errorf("failed to load fixtures from %s: %w", fixturesDir, err)
			}
			for _, ex := range loaded {
				if err := registry.Register(ex.Describe(), ex); err != nil {
					return err
				}
			}

			descriptors := registry.List(provider, services)

			if jsonOutput {
				data, err := json.MarshalIndent(descriptors, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			if len(descriptors) == 0 {
				fmt.Println("No extractors match.")
				return nil
			}
			fmt.Printf("%-24s  %-8s  %-6s  %s\n", "EXTRACTOR", "VERSION", "SCOPE", "RESOURCE TYPES")
			for _, d := range descriptors {
				scope := "global"
				if d.RegionScoped {
					scope = "region"
				}
				fmt.Printf("%-24s  %-8s  %-6s  %s\n",
					d.Key(), d.Version, scope, strings.Join(d.ResourceTypes, ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "narrow to one provider")
	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "narrow to these services (repeatable)")
	cmd.Flags().StringVar(&fixturesDir, "fixtures", "fixtures", "directory of extractor fixture files")

	return cmd
}
