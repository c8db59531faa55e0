// Package telemetry provides observability instrumentation for Stacktake.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), metrics (Prometheus), and event publishing into a
// unified system for monitoring and debugging extraction jobs.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "stacktake"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Structured Logging
//
// The logger provides component-specific logging with field helpers for the
// engine's core identifiers:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithJobID("job-123").WithExtractor("aws:ec2")
//	logger.Info("extraction started")
//	logger.WithError(err).Warn("extractor call failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Each job run opens a job span; every extractor call and batch delivery
// nests under it:
//
//	ctx, span := tel.Tracer.StartJobSpan(ctx, jobID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), stdout (development), none (testing).
//
// # Metrics
//
// Key metrics exposed at /metrics (default :9090):
//
//	stacktake_jobs_started_total
//	stacktake_jobs_finished_total{state}
//	stacktake_job_duration_seconds{state}
//	stacktake_active_jobs
//	stacktake_extractor_runs_total{provider,service,status}
//	stacktake_extractor_run_duration_seconds{provider,service}
//	stacktake_artifacts_produced_total{provider,service}
//	stacktake_batches_sent_total{transport,status}
//	stacktake_artifacts_delivered_total{transport}
//	stacktake_send_retries_total{transport}
//
// # Event Publishing
//
// The event system provides publish/subscribe with buffering and filtering:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// Event filters: FilterByLevel, FilterByType, FilterByJobID
//
// # Configuration
//
// Pre-configured setups exist for different environments:
//
//	cfg := telemetry.DevelopmentConfig() // verbose logging, stdout traces
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
package telemetry
