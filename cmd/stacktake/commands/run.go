package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacktake/stacktake/pkg/config"
	"github.com/stacktake/stacktake/pkg/engine"
	"github.com/stacktake/stacktake/pkg/extractors/fixture"
	"github.com/stacktake/stacktake/pkg/stores"
	"github.com/stacktake/stacktake/pkg/telemetry"
	"github.com/stacktake/stacktake/pkg/transports"
	"github.com/stacktake/stacktake/pkg/transports/discard"
	"github.com/stacktake/stacktake/pkg/transports/httppush"
	"github.com/stacktake/stacktake/pkg/transports/localdir"
	"github.com/stacktake/stacktake/pkg/transports/objectstore"
	"github.com/stacktake/stacktake/pkg/transports/sftppush"
)

func newRunCommand() *cobra.Command {
	var (
		provider    string
		services    []string
		regions     []string
		filters     map[string]string
		batchSize   int
		fixturesDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an extraction job and wait for it to finish",
		Long: `Start an extraction job for the given selection criteria and wait
until it reaches a terminal state.

Extractors are loaded from JSON fixture files in the fixtures directory.
Artifacts are batched and delivered through the transport configured in the
config file (local directory by default via --config).

Interrupting the command (Ctrl-C) requests cooperative cancellation:
no new extractor calls start, in-flight calls are discarded, and
already-buffered artifacts are still flushed to the transport.`,
		Example: `  # Extract everything the fixtures describe
  stacktake run --fixtures ./fixtures

  # Narrow to one provider and service, two regions
  stacktake run --provider aws --service ec2 --region us-east-1 --region eu-west-1

  # Pass filters through to the extractors and shrink the batches
  stacktake run --provider aws --filter env=prod --batch-size 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			criteria := engine.Criteria{
				Provider:  provider,
				Services:  services,
				Regions:   regions,
				Filters:   filters,
				BatchSize: batchSize,
			}
			return runJob(cmd.Context(), cfg, criteria, fixturesDir)
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider to extract from (empty means all)")
	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "services to extract (repeatable, empty means all)")
	cmd.Flags().StringSliceVarP(&regions, "region", "r", nil, "regions to query (repeatable)")
	cmd.Flags().StringToStringVarP(&filters, "filter", "f", nil, "filters passed through to extractors (key=value)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "artifacts per batch (0 uses the configured default)")
	cmd.Flags().StringVar(&fixturesDir, "fixtures", "fixtures", "directory of extractor fixture files")

	return cmd
}

func runJob(ctx context.Context, cfg *config.Config, criteria engine.Criteria, fixturesDir string) error {
	tel, err := telemetry.NewTelemetry(cfg.TelemetrySettings(buildVersion))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutCtx)
	}()

	if cfg.Telemetry.MetricsEnabled {
		if err := tel.StartMetricsServer(); err != nil {
			return err
		}
	}

	transport, cleanup, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	retrying := transports.NewRetrying(transport, transports.RetryConfig{
		MaxAttempts:   cfg.Transport.Retry.MaxAttempts,
		BaseDelay:     cfg.Transport.Retry.BaseDelay,
		ThrottleDelay: cfg.Transport.Retry.ThrottleDelay,
		MaxDelay:      cfg.Transport.Retry.MaxDelay,
		OnRetry: func(name string, attempt int, err error) {
			tel.Metrics.SendRetry(name)
			tel.Logger.WithTransport(name).
				WithField("attempt", attempt).
				WithError(err).
				Warn("retrying batch delivery")
		},
	})

	var history engine.HistoryStore
	if cfg.History.Enabled {
		store, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		history = store
	}

	registry := engine.NewRegistry()
	extractors, err := fixture.LoadDir(fixturesDir)
	if err != nil {
		return fmt.Errorf("failed to load fixtures from %s: %w", fixturesDir, err)
	}
	for _, ex := range extractors {
		if err := registry.Register(ex.Describe(), ex); err != nil {
			return err
		}
	}
	tel.Logger.WithField("extractors", registry.Len()).Info("extractors registered")

	orch, err := engine.New(engine.Options{
		Registry:                registry,
		Transport:               retrying,
		History:                 history,
		Telemetry:               tel,
		MaxConcurrentExtractors: cfg.Engine.MaxConcurrentExtractors,
		ExtractorTimeout:        cfg.Engine.ExtractorTimeout,
		DefaultBatchSize:        cfg.Engine.DefaultBatchSize,
	})
	if err != nil {
		return err
	}

	jobID, err := orch.StartJob(ctx, criteria)
	if err != nil {
		return err
	}

	// An interrupt cancels the job cooperatively; Wait still runs on a
	// fresh context so buffered artifacts get flushed before we exit.
	go func() {
		<-ctx.Done()
		_ = orch.CancelJob(jobID)
	}()

	job, err := orch.Wait(context.Background(), jobID)
	if err != nil {
		return err
	}

	if err := printJob(job); err != nil {
		return err
	}
	if job.State == engine.JobStateFailed {
		return fmt.Errorf("job %s failed", job.ID)
	}
	return nil
}

// buildTransport constructs the configured transport. The returned cleanup
// releases transport resources and is safe to call once.
func buildTransport(ctx context.Context, cfg *config.Config) (engine.Transport, func(), error) {
	noop := func() {}

	switch cfg.Transport.Type {
	case "httppush":
		t, err := httppush.New(httppush.Config{
			Endpoint: cfg.Transport.HTTP.Endpoint,
			Headers:  cfg.Transport.HTTP.Headers,
			Timeout:  cfg.Transport.HTTP.Timeout,
		})
		return t, noop, err

	case "objectstore":
		o := cfg.Transport.ObjectStore
		t, err := objectstore.New(objectstore.Config{
			Endpoint:  o.Endpoint,
			AccessKey: o.AccessKey,
			SecretKey: o.SecretKey,
			UseSSL:    o.UseSSL,
			Region:    o.Region,
			Bucket:    o.Bucket,
			Prefix:    o.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := t.EnsureBucket(ctx); err != nil {
			return nil, noop, err
		}
		return t, noop, nil

	case "sftppush":
		s := cfg.Transport.SFTP
		sc := sftppush.DefaultConfig(s.Host, s.User)
		if s.Port != 0 {
			sc.Port = s.Port
		}
		if s.AuthMethod != "" {
			sc.AuthMethod = sftppush.AuthMethod(s.AuthMethod)
		}
		sc.Password = s.Password
		if s.PrivateKeyPath != "" {
			sc.PrivateKeyPath = s.PrivateKeyPath
		}
		if s.KnownHostsPath != "" {
			sc.KnownHostsPath = s.KnownHostsPath
		}
		sc.StrictHostKeyChecking = s.StrictHostKeyChecking
		if s.ConnectionTimeout != 0 {
			sc.ConnectionTimeout = s.ConnectionTimeout
		}
		if s.RemoteDir != "" {
			sc.RemoteDir = s.RemoteDir
		}
		t, err := sftppush.New(sc)
		if err != nil {
			return nil, noop, err
		}
		return t, func() { _ = t.Close() }, nil

	case "localdir":
		t, err := localdir.New(localdir.Config{
			Dir:         cfg.Transport.LocalDir.Dir,
			PrettyPrint: cfg.Transport.LocalDir.PrettyPrint,
		})
		return t, noop, err

	case "discard":
		return discard.New(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown transport type: %s", cfg.Transport.Type)
	}
}

func openHistory(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func printJob(job *engine.Job) error {
	if jsonOutput {
		data, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Job:        %s\n", job.ID)
	fmt.Printf("State:      %s\n", job.State)
	fmt.Printf("Produced:   %d artifacts\n", job.Counters.ArtifactsProduced)
	fmt.Printf("Delivered:  %d artifacts in %d batches\n",
		job.Counters.ArtifactsDelivered, job.Counters.BatchesDelivered)
	if job.Counters.ExtractorFailures > 0 || job.Counters.DeliveryFailures > 0 {
		fmt.Printf("Failures:   %d extractor, %d delivery\n",
			job.Counters.ExtractorFailures, job.Counters.DeliveryFailures)
	}
	for _, rec := range job.Errors {
		if rec.Extractor != "" {
			fmt.Printf("  [%s] %s (%s): %s\n", rec.Kind, rec.Extractor, rec.Region, rec.Message)
		} else {
			fmt.Printf("  [%s] %s\n", rec.Kind, rec.Message)
		}
	}
	return nil
}
