package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacktake/stacktake/pkg/engine"
	"github.com/stacktake/stacktake/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show persisted job history",
		Long: `Show jobs from the persisted history database.

Without arguments, lists recent jobs newest first. With a job id, shows
that job's counters, error records, and delivery log.

Requires history to be enabled in the config file.`,
		Example: `  # List recent jobs
  stacktake status --config stacktake.yaml

  # Show one job in detail
  stacktake status 1b4e28ba-2fa1-11d2-883f-0016d3cca427`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("job history is disabled; set history.enabled in the config")
			}

			store, err := openHistory(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				return listJobs(cmd.Context(), store, limit)
			}
			return showJob(cmd.Context(), store, args[0])
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to list")

	return cmd
}

func listJobs(ctx context.Context, store stores.Store, limit int) error {
	jobs, err := store.ListJobs(ctx, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs recorded.")
		return nil
	}
	fmt.Printf("%-36s  %-9s  %-10s  %9s  %9s  %s\n",
		"JOB", "STATE", "PROVIDER", "PRODUCED", "DELIVERED", "CREATED")
	for _, j := range jobs {
		provider := j.Provider
		if provider == "" {
			provider = "*"
		}
		fmt.Printf("%-36s  %-9s  %-10s  %9d  %9d  %s\n",
			j.ID, j.State, provider,
			j.ArtifactsProduced, j.ArtifactsDelivered,
			j.CreatedAt.Local().Format(time.RFC3339))
	}
	return nil
}

func showJob(ctx context.Context, store stores.Store, jobID string) error {
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		if engine.IsNotFound(err) {
			return fmt.Errorf("job %s not found in history", jobID)
		}
		return err
	}
	errs, err := store.ListJobErrors(ctx, jobID)
	if err != nil {
		return err
	}
	deliveries, err := store.ListDeliveries(ctx, jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"job":        job,
			"errors":     errs,
			"deliveries": deliveries,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Job:        %s\n", job.ID)
	fmt.Printf("State:      %s\n", job.State)
	fmt.Printf("Criteria:   %s\n", job.Criteria)
	fmt.Printf("Created:    %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("Completed:  %s\n", job.CompletedAt.Local().Format(time.RFC3339))
	}
	fmt.Printf("Produced:   %d artifacts\n", job.ArtifactsProduced)
	fmt.Printf("Delivered:  %d artifacts in %d batches\n",
		job.ArtifactsDelivered, job.BatchesDelivered)
	fmt.Printf("Failures:   %d extractor, %d delivery\n",
		job.ExtractorFailures, job.DeliveryFailures)

	if len(errs) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range errs {
			if e.Extractor != "" {
				fmt.Printf("  [%s] %s (%s): %s\n", e.Kind, e.Extractor, e.Region, e.Message)
			} else {
				fmt.Printf("  [%s] %s\n", e.Kind, e.Message)
			}
		}
	}
	if len(deliveries) > 0 {
		fmt.Println("\nDeliveries:")
		for _, d := range deliveries {
			status := "delivered"
			if !d.Delivered {
				status = "failed: " + d.Error
			}
			fmt.Printf("  batch %d: %d artifacts, %s\n", d.Seq, d.Artifacts, status)
		}
	}
	return nil
}
