package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Stacktake.
type Metrics struct {
	config MetricsConfig

	// Job metrics
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeJobs    prometheus.Gauge

	// Extractor metrics
	extractorRuns     *prometheus.CounterVec
	extractorDuration *prometheus.HistogramVec
	artifactsProduced *prometheus.CounterVec

	// Delivery metrics
	batchesSent        *prometheus.CounterVec
	artifactsDelivered *prometheus.CounterVec
	sendRetries        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		jobsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of extraction jobs started",
			},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of extraction jobs finished",
			},
			[]string{"state"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of extraction jobs in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_jobs",
				Help:      "Current number of active extraction jobs",
			},
		),

		extractorRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractor_runs_total",
				Help:      "Total number of extractor calls",
			},
			[]string{"provider", "service", "status"},
		),
		extractorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extractor_run_duration_seconds",
				Help:      "Duration of extractor calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "service"},
		),
		artifactsProduced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_produced_total",
				Help:      "Total number of artifacts produced by extractors",
			},
			[]string{"provider", "service"},
		),

		batchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_sent_total",
				Help:      "Total number of batches sent to transports",
			},
			[]string{"transport", "status"},
		),
		artifactsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_delivered_total",
				Help:      "Total number of artifacts delivered to transports",
			},
			[]string{"transport"},
		),
		sendRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_retries_total",
				Help:      "Total number of transport send retries",
			},
			[]string{"transport"},
		),
	}

	registry.MustRegister(
		m.jobsStarted,
		m.jobsFinished,
		m.jobDuration,
		m.activeJobs,
		m.extractorRuns,
		m.extractorDuration,
		m.artifactsProduced,
		m.batchesSent,
		m.artifactsDelivered,
		m.sendRetries,
	)

	return m, nil
}

// Job Metrics

// JobStarted increments the counter for started jobs.
func (m *Metrics) JobStarted() {
	if m.jobsStarted == nil {
		return
	}
	m.jobsStarted.Inc()
}

// JobFinished records a finished job with its terminal state and duration.
func (m *Metrics) JobFinished(state string, duration time.Duration) {
	if m.jobsFinished == nil {
		return
	}
	m.jobsFinished.WithLabelValues(state).Inc()
	m.jobDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// IncActiveJobs increments the active-jobs gauge.
func (m *Metrics) IncActiveJobs() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Inc()
}

// DecActiveJobs decrements the active-jobs gauge.
func (m *Metrics) DecActiveJobs() {
	if m.activeJobs == nil {
		return
	}
	m.activeJobs.Dec()
}

// Extractor Metrics

// ExtractorRun records one extractor call with its outcome and duration.
func (m *Metrics) ExtractorRun(provider, service, status string, duration time.Duration) {
	if m.extractorRuns == nil {
		return
	}
	m.extractorRuns.WithLabelValues(provider, service, status).Inc()
	m.extractorDuration.WithLabelValues(provider, service).Observe(duration.Seconds())
}

// AddArtifactsProduced adds to the produced-artifacts counter.
func (m *Metrics) AddArtifactsProduced(provider, service string, n int) {
	if m.artifactsProduced == nil {
		return
	}
	m.artifactsProduced.WithLabelValues(provider, service).Add(float64(n))
}

// Delivery Metrics

// BatchSent records one batch delivery attempt outcome.
func (m *Metrics) BatchSent(transport, status string) {
	if m.batchesSent == nil {
		return
	}
	m.batchesSent.WithLabelValues(transport, status).Inc()
}

// AddArtifactsDelivered adds to the delivered-artifacts counter.
func (m *Metrics) AddArtifactsDelivered(transport string, n int) {
	if m.artifactsDelivered == nil {
		return
	}
	m.artifactsDelivered.WithLabelValues(transport).Add(float64(n))
}

// SendRetry records one transport send retry.
func (m *Metrics) SendRetry(transport string) {
	if m.sendRetries == nil {
		return
	}
	m.sendRetries.WithLabelValues(transport).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
