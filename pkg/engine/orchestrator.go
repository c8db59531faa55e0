package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stacktake/stacktake/pkg/telemetry"
)

// Orchestrator coordinates extraction jobs: it resolves extractors from the
// registry, runs them under bounded concurrency, streams artifacts into the
// batcher, and tracks job progress in the job store. Extractor and delivery
// failures are isolated per unit and recorded on the job; only faults that
// prevent a job from starting at all fail it.
type Orchestrator struct {
	registry  *Registry
	transport Transport
	batcher   *Batcher
	jobs      *JobStore
	history   HistoryStore
	tel       *telemetry.Telemetry

	maxConcurrent    int
	extractorTimeout time.Duration
	defaultBatchSize int

	mu   sync.Mutex
	runs map[string]*runState
}

// runState is the per-job control block while a job is active.
type runState struct {
	cancelled atomic.Bool
	done      chan struct{}
}

// workUnit is one extractor call: an extractor paired with the region to
// query. Region-agnostic extractors carry an empty region.
type workUnit struct {
	entry  Entry
	region string
}

// Options configures an Orchestrator.
type Options struct {
	// Registry is the extractor catalog. Required.
	Registry *Registry

	// Transport delivers finished batches. Wrap it with transports.NewRetrying
	// to get backoff on retryable failures. Required.
	Transport Transport

	// History optionally mirrors job state to a durable store.
	History HistoryStore

	// Telemetry provides logging, metrics, tracing, and events. Optional;
	// a quiet default is used when nil.
	Telemetry *telemetry.Telemetry

	// MaxConcurrentExtractors bounds the worker pool. Defaults to 10.
	MaxConcurrentExtractors int

	// ExtractorTimeout bounds each extractor call. Defaults to 5 minutes.
	ExtractorTimeout time.Duration

	// DefaultBatchSize is used when a job does not set one. Defaults to 100.
	DefaultBatchSize int
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, NewPermanentError("registry is required", nil).WithCode(ErrCodeValidation)
	}
	if opts.Transport == nil {
		return nil, NewPermanentError("transport is required", nil).WithCode(ErrCodeValidation)
	}
	if opts.MaxConcurrentExtractors <= 0 {
		opts.MaxConcurrentExtractors = 10
	}
	if opts.ExtractorTimeout <= 0 {
		opts.ExtractorTimeout = 5 * time.Minute
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 100
	}
	tel := opts.Telemetry
	if tel == nil {
		var err error
		tel, err = telemetry.NewTelemetry(telemetry.DefaultConfig())
		if err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		registry:         opts.Registry,
		transport:        opts.Transport,
		jobs:             NewJobStore(),
		history:          opts.History,
		tel:              tel,
		maxConcurrent:    opts.MaxConcurrentExtractors,
		extractorTimeout: opts.ExtractorTimeout,
		defaultBatchSize: opts.DefaultBatchSize,
		runs:             make(map[string]*runState),
	}
	o.batcher = NewBatcher(opts.Transport, opts.DefaultBatchSize, o.onDelivery)
	return o, nil
}

// StartJob creates a job for the given criteria and runs it asynchronously.
// The returned id can be polled with GetJobStatus. Invalid criteria do not
// fail this call; the job itself transitions to FAILED before any
// extraction starts.
func (o *Orchestrator) StartJob(ctx context.Context, criteria Criteria) (string, error) {
	criteria.Normalize()

	job := &Job{
		ID:        uuid.New().String(),
		Criteria:  criteria,
		State:     JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Create(job); err != nil {
		return "", err
	}

	rs := &runState{done: make(chan struct{})}
	o.mu.Lock()
	o.runs[job.ID] = rs
	o.mu.Unlock()

	o.tel.Metrics.JobStarted()
	o.tel.Metrics.IncActiveJobs()
	o.tel.Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeJobStarted,
		JobID:   job.ID,
		Message: "job started",
		Level:   telemetry.EventLevelInfo,
	})
	o.tel.Logger.WithJobID(job.ID).
		WithField("provider", criteria.Provider).
		Info("job accepted")

	go o.run(job.ID, rs)
	return job.ID, nil
}

// GetJobStatus returns a snapshot of the job's state, counters, and errors.
func (o *Orchestrator) GetJobStatus(jobID string) (*Job, error) {
	return o.jobs.Get(jobID)
}

// ListJobs returns snapshots of all jobs, newest first.
func (o *Orchestrator) ListJobs() []*Job {
	return o.jobs.List()
}

// CancelJob requests cooperative cancellation of a job. No new extractor
// calls are dispatched after the request; already-dispatched calls run to
// completion and their results are discarded. The job reaches CANCELLED
// once all in-flight calls return.
func (o *Orchestrator) CancelJob(jobID string) error {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return NewPermanentError("job is already terminal", nil).
			WithCode(ErrCodeAlreadyTerminal).WithJob(jobID)
	}

	o.mu.Lock()
	rs := o.runs[jobID]
	o.mu.Unlock()
	if rs == nil {
		// The run loop finished between the state check and here.
		return nil
	}
	rs.cancelled.Store(true)
	o.tel.Logger.WithJobID(jobID).Info("cancellation requested")
	return nil
}

// Wait blocks until the job reaches a terminal state or the context is
// done, then returns the job snapshot.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*Job, error) {
	o.mu.Lock()
	rs := o.runs[jobID]
	o.mu.Unlock()
	if rs != nil {
		select {
		case <-rs.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.jobs.Get(jobID)
}

// ListExtractors returns the descriptors matching the given filters.
func (o *Orchestrator) ListExtractors(provider string, services []string) []Descriptor {
	return o.registry.List(provider, services)
}

// run drives one job from PENDING to a terminal state.
func (o *Orchestrator) run(jobID string, rs *runState) {
	start := time.Now()
	ctx := context.Background()
	logger := o.tel.Logger.WithJobID(jobID)

	ctx, span := o.tel.Tracer.StartJobSpan(ctx, jobID)
	defer span.End()
	defer o.dropRunState(jobID, rs)

	job, err := o.jobs.Get(jobID)
	if err != nil {
		logger.WithError(err).Error("job vanished before start")
		return
	}
	criteria := job.Criteria

	if err := criteria.Validate(); err != nil {
		telemetry.RecordError(span, err)
		o.failJob(ctx, logger, jobID, start, err)
		return
	}

	// Cancellation can arrive before the first dispatch.
	if rs.cancelled.Load() {
		o.finishJob(ctx, logger, jobID, JobStateCancelled, start)
		return
	}

	entries := o.registry.Resolve(criteria.Provider, criteria.Services)
	units := buildWorkList(entries, criteria.Regions)
	o.batcher.Open(jobID, criteria.BatchSize)

	logger.WithField("extractors", len(entries)).
		WithField("units", len(units)).
		Info("job resolved")

	// An empty resolution is not an error: the job completes immediately
	// with zero counters.
	if len(units) == 0 {
		o.batcher.Flush(ctx, jobID)
		o.finishJob(ctx, logger, jobID, JobStateCompleted, start)
		return
	}

	if err := o.jobs.SetState(jobID, JobStateRunning); err != nil {
		logger.WithError(err).Error("cannot enter running state")
		return
	}

	workers := o.maxConcurrent
	if len(units) < workers {
		workers = len(units)
	}

	unitCh := make(chan workUnit)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range unitCh {
				// Checked again at pickup: units queued before the
				// cancellation request must not start after it.
				if rs.cancelled.Load() {
					continue
				}
				o.runUnit(ctx, logger, jobID, criteria, unit, rs)
			}
		}()
	}

	for _, unit := range units {
		if rs.cancelled.Load() {
			break
		}
		unitCh <- unit
	}
	close(unitCh)
	wg.Wait()

	// The flush boundary on cancellation: artifacts accepted from units
	// that finished before the request are still delivered; units that
	// finished after it were discarded and never reached the buffer.
	o.batcher.Flush(ctx, jobID)

	if rs.cancelled.Load() {
		o.finishJob(ctx, logger, jobID, JobStateCancelled, start)
		return
	}
	o.finishJob(ctx, logger, jobID, JobStateCompleted, start)
}

// runUnit executes a single extractor call under the per-call timeout.
func (o *Orchestrator) runUnit(ctx context.Context, logger *telemetry.Logger, jobID string, criteria Criteria, unit workUnit, rs *runState) {
	desc := unit.entry.Descriptor
	key := desc.Key()
	ulog := logger.WithExtractor(key)
	if unit.region != "" {
		ulog = ulog.WithField("region", unit.region)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.extractorTimeout)
	defer cancel()
	callCtx, span := o.tel.Tracer.StartExtractorSpan(callCtx, key, unit.region)
	defer span.End()

	callStart := time.Now()
	artifacts, err := unit.entry.Extractor.Run(callCtx, unit.region, criteria.Filters)
	elapsed := time.Since(callStart)

	// Results arriving after a cancellation request are dropped whole:
	// no counters, no errors, no batching.
	if rs.cancelled.Load() {
		ulog.Debug("discarding extractor result after cancellation")
		return
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = NewTransientError("extractor call timed out", err).
				WithCode(ErrCodeTimeout).WithExtractor(key, unit.region)
		}
		telemetry.RecordError(span, err)
		o.tel.Metrics.ExtractorRun(desc.Provider, desc.Service, "failed", elapsed)

		rec := ErrorRecord{
			Extractor: key,
			Region:    unit.region,
			Kind:      ErrorKindExtraction,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
		o.jobs.IncExtractorFailures(jobID)
		o.jobs.AppendError(jobID, rec)
		o.appendHistoryError(ctx, jobID, rec)

		o.tel.Events.Publish(telemetry.Event{
			Type:      telemetry.EventTypeExtractorFailed,
			JobID:     jobID,
			Extractor: key,
			Message:   err.Error(),
			Level:     telemetry.EventLevelWarning,
		})
		ulog.WithError(err).Warn("extractor call failed")
		return
	}

	o.jobs.AddProduced(jobID, len(artifacts))
	o.tel.Metrics.ExtractorRun(desc.Provider, desc.Service, "succeeded", elapsed)
	o.tel.Metrics.AddArtifactsProduced(desc.Provider, desc.Service, len(artifacts))
	telemetry.RecordSuccess(span)
	ulog.WithField("artifacts", len(artifacts)).Debug("extractor call succeeded")

	o.batcher.Accept(ctx, jobID, artifacts)
}

// onDelivery is the batcher's delivery observer. Delivery failures are
// recorded and counted but never fail the job.
func (o *Orchestrator) onDelivery(jobID string, seq uint64, artifacts int, err error) {
	ctx := context.Background()
	if err != nil {
		o.jobs.IncDeliveryFailures(jobID)
		rec := ErrorRecord{
			Kind:      ErrorKindDelivery,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		}
		o.jobs.AppendError(jobID, rec)
		o.appendHistoryError(ctx, jobID, rec)
		o.recordHistoryDelivery(ctx, Delivery{
			JobID: jobID, Seq: seq, Artifacts: artifacts,
			Delivered: false, Error: err.Error(), Timestamp: rec.Timestamp,
		})

		o.tel.Metrics.BatchSent(o.transport.Name(), "failed")
		o.tel.Events.Publish(telemetry.Event{
			Type:     telemetry.EventTypeBatchFailed,
			JobID:    jobID,
			BatchSeq: seq,
			Message:  err.Error(),
			Level:    telemetry.EventLevelError,
		})
		o.tel.Logger.WithJobID(jobID).
			WithField("seq", seq).
			WithError(err).
			Error("batch delivery failed, artifacts lost for this job")
		return
	}

	o.jobs.AddDelivered(jobID, artifacts)
	o.recordHistoryDelivery(ctx, Delivery{
		JobID: jobID, Seq: seq, Artifacts: artifacts,
		Delivered: true, Timestamp: time.Now().UTC(),
	})
	o.tel.Metrics.BatchSent(o.transport.Name(), "delivered")
	o.tel.Metrics.AddArtifactsDelivered(o.transport.Name(), artifacts)
	o.tel.Events.Publish(telemetry.Event{
		Type:     telemetry.EventTypeBatchDelivered,
		JobID:    jobID,
		BatchSeq: seq,
		Message:  "batch delivered",
		Level:    telemetry.EventLevelInfo,
	})
}

// failJob marks a job FAILED before any extraction started.
func (o *Orchestrator) failJob(ctx context.Context, logger *telemetry.Logger, jobID string, start time.Time, cause error) {
	rec := ErrorRecord{
		Kind:      ErrorKindResolution,
		Message:   cause.Error(),
		Timestamp: time.Now().UTC(),
	}
	o.jobs.AppendError(jobID, rec)
	o.appendHistoryError(ctx, jobID, rec)
	logger.WithError(cause).Error("job failed before extraction started")
	o.finishJob(ctx, logger, jobID, JobStateFailed, start)
}

// finishJob transitions a job to its terminal state and flushes bookkeeping.
func (o *Orchestrator) finishJob(ctx context.Context, logger *telemetry.Logger, jobID string, state JobState, start time.Time) {
	if err := o.jobs.SetState(jobID, state); err != nil {
		logger.WithError(err).Error("terminal transition rejected")
		return
	}

	o.tel.Metrics.JobFinished(string(state), time.Since(start))
	o.tel.Metrics.DecActiveJobs()

	eventType := telemetry.EventTypeJobCompleted
	level := telemetry.EventLevelInfo
	switch state {
	case JobStateFailed:
		eventType = telemetry.EventTypeJobFailed
		level = telemetry.EventLevelError
	case JobStateCancelled:
		eventType = telemetry.EventTypeJobCancelled
	}
	o.tel.Events.Publish(telemetry.Event{
		Type:    eventType,
		JobID:   jobID,
		Message: "job " + string(state),
		Level:   level,
	})

	if job, err := o.jobs.Get(jobID); err == nil {
		o.saveHistoryJob(ctx, job)
		logger.WithField("state", string(state)).
			WithField("produced", job.Counters.ArtifactsProduced).
			WithField("delivered", job.Counters.ArtifactsDelivered).
			WithField("extractor_failures", job.Counters.ExtractorFailures).
			Info("job finished")
	}
}

func (o *Orchestrator) dropRunState(jobID string, rs *runState) {
	o.mu.Lock()
	delete(o.runs, jobID)
	o.mu.Unlock()
	close(rs.done)
}

func (o *Orchestrator) saveHistoryJob(ctx context.Context, job *Job) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveJob(ctx, job); err != nil {
		o.tel.Logger.WithJobID(job.ID).WithError(err).Warn("history write failed")
	}
}

func (o *Orchestrator) appendHistoryError(ctx context.Context, jobID string, rec ErrorRecord) {
	if o.history == nil {
		return
	}
	if err := o.history.AppendJobError(ctx, jobID, rec); err != nil {
		o.tel.Logger.WithJobID(jobID).WithError(err).Warn("history write failed")
	}
}

func (o *Orchestrator) recordHistoryDelivery(ctx context.Context, d Delivery) {
	if o.history == nil {
		return
	}
	if err := o.history.RecordDelivery(ctx, d); err != nil {
		o.tel.Logger.WithJobID(d.JobID).WithError(err).Warn("history write failed")
	}
}

// buildWorkList expands resolved extractors into the per-region work list.
// Region-scoped extractors cross with the job's regions when set, falling
// back to the descriptor's supported regions; an extractor with neither
// runs once with an empty region and resolves regions internally.
func buildWorkList(entries []Entry, regions []string) []workUnit {
	units := make([]workUnit, 0, len(entries))
	for _, e := range entries {
		if !e.Descriptor.RegionScoped {
			units = append(units, workUnit{entry: e})
			continue
		}
		candidates := regions
		if len(candidates) == 0 {
			candidates = e.Descriptor.Regions
		}
		if len(candidates) == 0 {
			units = append(units, workUnit{entry: e})
			continue
		}
		for _, r := range candidates {
			units = append(units, workUnit{entry: e, region: r})
		}
	}
	return units
}
