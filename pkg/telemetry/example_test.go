package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stacktake/stacktake/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "stacktake"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Engine started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("orchestrator")

	// Add context fields
	logger = logger.WithJobID("job-123").
		WithExtractor("aws:ec2")

	// Log at different levels
	logger.Debug("Dispatching extractor call")
	logger.Info("Extractor call succeeded")
	logger.Warn("Region returned partial results")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach provider API")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start the job span
	ctx, span := tel.Tracer.StartJobSpan(ctx, "job-123")
	defer span.End()

	span.SetAttributes(
		attribute.String("criteria.provider", "aws"),
		attribute.Int("criteria.batch_size", 100),
	)
	span.AddEvent("resolution.complete")

	// Nested extractor span
	_, childSpan := tel.Tracer.StartExtractorSpan(ctx, "aws:ec2", "us-east-1")
	defer childSpan.End()

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record job metrics
	tel.Metrics.JobStarted()
	tel.Metrics.IncActiveJobs()

	// Simulate an extractor call
	start := time.Now()
	time.Sleep(20 * time.Millisecond)
	tel.Metrics.ExtractorRun("aws", "ec2", "succeeded", time.Since(start))
	tel.Metrics.AddArtifactsProduced("aws", "ec2", 42)

	// Record delivery metrics
	tel.Metrics.BatchSent("httppush", "delivered")
	tel.Metrics.AddArtifactsDelivered("httppush", 42)
	tel.Metrics.SendRetry("httppush")

	tel.Metrics.JobFinished("completed", time.Since(start))
	tel.Metrics.DecActiveJobs()

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false // Synchronous for example

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe to events
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
	}, nil) // No filter, receive all events

	// Publish events
	tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeJobStarted,
		JobID:   "job-123",
		Message: "job started",
		Level:   telemetry.EventLevelInfo,
	})
	tel.Events.Publish(telemetry.Event{
		Type:     telemetry.EventTypeBatchDelivered,
		JobID:    "job-123",
		BatchSeq: 1,
		Message:  "batch delivered",
		Level:    telemetry.EventLevelInfo,
	})

	// Output:
	// Event: job.started - job started
	// Event: batch.delivered - batch delivered
}

// Example_eventFiltering demonstrates event filtering.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Subscribe with level filter (only warnings and errors)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Important event: %s\n", event.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	// Subscribe with type filter (only extractor failures)
	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("Extractor event: %s\n", event.Message)
	}, telemetry.FilterByType(telemetry.EventTypeExtractorFailed))

	// Info - dropped by both filters
	tel.Events.Publish(telemetry.Event{
		Type:  telemetry.EventTypeJobStarted,
		Level: telemetry.EventLevelInfo,
	})
	// Warning - passes both filters
	tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeExtractorFailed,
		Message: "aws:ec2 unreachable",
		Level:   telemetry.EventLevelWarning,
	})

	// Output:
	// Important event: extractor.failed
	// Extractor event: aws:ec2 unreachable
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()

	// Customize for your environment
	cfg.ServiceName = "stacktake"
	cfg.ServiceVersion = "1.2.3"
	cfg.Environment = "production"

	// Configure OTLP exporter
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = "otel-collector.monitoring.svc.cluster.local:4317"
	cfg.Tracing.SamplingRate = 0.1 // 10% sampling
	cfg.Tracing.Insecure = false   // Use TLS in production

	// Configure metrics
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "stacktake"

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("Production configuration validated")
	// Output: Production configuration validated
}
