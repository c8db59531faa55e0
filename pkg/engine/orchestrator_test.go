package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// gateExtractor blocks its Run call for one region until released, so
// tests can cancel a job with a call deterministically in flight.
type gateExtractor struct {
	desc        Descriptor
	blockRegion string
	started     chan struct{}
	release     chan struct{}
	artifacts   map[string][]Artifact
}

func (e *gateExtractor) Describe() Descriptor { return e.desc }

func (e *gateExtractor) Run(ctx context.Context, region string, filters map[string]string) ([]Artifact, error) {
	if region == e.blockRegion {
		close(e.started)
		<-e.release
	}
	return e.artifacts[region], nil
}

// hangingExtractor waits out the per-call timeout.
type hangingExtractor struct {
	desc Descriptor
}

func (e *hangingExtractor) Describe() Descriptor { return e.desc }

func (e *hangingExtractor) Run(ctx context.Context, region string, filters map[string]string) ([]Artifact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeHistory records the orchestrator's history writes.
type fakeHistory struct {
	mu         sync.Mutex
	jobs       []*Job
	errors     []ErrorRecord
	deliveries []Delivery
}

func (h *fakeHistory) SaveJob(ctx context.Context, job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job.Clone())
	return nil
}

func (h *fakeHistory) AppendJobError(ctx context.Context, jobID string, rec ErrorRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, rec)
	return nil
}

func (h *fakeHistory) RecordDelivery(ctx context.Context, d Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliveries = append(h.deliveries, d)
	return nil
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(opts)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return o
}

func runToCompletion(t *testing.T, o *Orchestrator, criteria Criteria) *Job {
	t.Helper()
	jobID, err := o.StartJob(context.Background(), criteria)
	if err != nil {
		t.Fatalf("failed to start job: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := o.Wait(ctx, jobID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	return job
}

func TestJobCompletesAndDeliversBatches(t *testing.T) {
	registry := NewRegistry()
	ec2 := desc("aws", "ec2", "us-east-1")
	if err := registry.Register(ec2, &staticExtractor{desc: ec2, artifacts: makeArtifacts(3)}); err != nil {
		t.Fatal(err)
	}
	s3 := desc("aws", "s3")
	if err := registry.Register(s3, &staticExtractor{desc: s3, artifacts: makeArtifacts(2)}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{
		Registry:                registry,
		Transport:               transport,
		MaxConcurrentExtractors: 2,
	})

	job := runToCompletion(t, o, Criteria{Provider: "aws", BatchSize: 2})

	if job.State != JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	c := job.Counters
	if c.ArtifactsProduced != 5 || c.ArtifactsDelivered != 5 || c.BatchesDelivered != 3 {
		t.Errorf("unexpected counters: %+v", c)
	}
	if c.ExtractorFailures != 0 || c.DeliveryFailures != 0 {
		t.Errorf("unexpected failures: %+v", c)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}

	batches := transport.sent()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	seen := make(map[uint64]bool)
	total := 0
	for _, b := range batches {
		if b.JobID != job.ID {
			t.Errorf("batch carries wrong job id %s", b.JobID)
		}
		if len(b.Artifacts) > 2 {
			t.Errorf("batch exceeds size limit: %d", len(b.Artifacts))
		}
		if seen[b.Seq] {
			t.Errorf("sequence %d reused", b.Seq)
		}
		seen[b.Seq] = true
		total += len(b.Artifacts)
	}
	if total != 5 {
		t.Errorf("expected 5 artifacts delivered, got %d", total)
	}
}

func TestJobNarrowsByProvider(t *testing.T) {
	registry := NewRegistry()
	aws := desc("aws", "ec2")
	if err := registry.Register(aws, &staticExtractor{desc: aws, artifacts: makeArtifacts(2)}); err != nil {
		t.Fatal(err)
	}
	gcp := desc("gcp", "compute")
	if err := registry.Register(gcp, &staticExtractor{desc: gcp, artifacts: makeArtifacts(7)}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{Registry: registry, Transport: transport})

	job := runToCompletion(t, o, Criteria{Provider: "aws"})

	if job.State != JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.Counters.ArtifactsProduced != 2 {
		t.Errorf("expected only aws artifacts, got %d", job.Counters.ArtifactsProduced)
	}
}

func TestInvalidCriteriaFailsJobBeforeExtraction(t *testing.T) {
	registry := NewRegistry()
	d := desc("aws", "ec2")
	if err := registry.Register(d, &staticExtractor{desc: d, artifacts: makeArtifacts(1)}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{Registry: registry, Transport: transport})

	job := runToCompletion(t, o, Criteria{BatchSize: -1})

	if job.State != JobStateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
	if job.Counters != (Counters{}) {
		t.Errorf("expected zero counters, got %+v", job.Counters)
	}
	if len(job.Errors) != 1 || job.Errors[0].Kind != ErrorKindResolution {
		t.Errorf("expected one resolution record, got %+v", job.Errors)
	}
	if len(transport.sent()) != 0 {
		t.Error("no batches must be sent for a failed job")
	}
}

func TestEmptyResolutionCompletesImmediately(t *testing.T) {
	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{Registry: NewRegistry(), Transport: transport})

	job := runToCompletion(t, o, Criteria{Provider: "azure"})

	if job.State != JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.Counters != (Counters{}) {
		t.Errorf("expected zero counters, got %+v", job.Counters)
	}
	if len(job.Errors) != 0 {
		t.Errorf("expected no error records, got %+v", job.Errors)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
}

func TestExtractorFailureDoesNotFailJob(t *testing.T) {
	registry := NewRegistry()
	good := desc("aws", "s3")
	if err := registry.Register(good, &staticExtractor{desc: good, artifacts: makeArtifacts(2)}); err != nil {
		t.Fatal(err)
	}
	bad := desc("aws", "ec2")
	if err := registry.Register(bad, &staticExtractor{
		desc: bad,
		err:  NewTransientError("api unavailable", nil).WithCode(ErrCodeExtractionFailed),
	}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{Registry: registry, Transport: transport})

	job := runToCompletion(t, o, Criteria{Provider: "aws"})

	if job.State != JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	c := job.Counters
	if c.ExtractorFailures != 1 {
		t.Errorf("expected 1 extractor failure, got %d", c.ExtractorFailures)
	}
	if c.ArtifactsProduced != 2 || c.ArtifactsDelivered != 2 {
		t.Errorf("healthy extractor's artifacts must survive: %+v", c)
	}
	if len(job.Errors) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(job.Errors))
	}
	rec := job.Errors[0]
	if rec.Kind != ErrorKindExtraction || rec.Extractor != "aws:ec2" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestExtractorTimeoutIsRecordedAsFailure(t *testing.T) {
	registry := NewRegistry()
	d := desc("aws", "ec2")
	if err := registry.Register(d, &hangingExtractor{desc: d}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{
		Registry:         registry,
		Transport:        transport,
		ExtractorTimeout: 30 * time.Millisecond,
	})

	job := runToCompletion(t, o, Criteria{Provider: "aws"})

	if job.State != JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.Counters.ExtractorFailures != 1 {
		t.Errorf("expected 1 extractor failure, got %d", job.Counters.ExtractorFailures)
	}
	if len(job.Errors) != 1 || !strings.Contains(job.Errors[0].Message, "timed out") {
		t.Errorf("expected timeout record, got %+v", job.Errors)
	}
}

func TestCancelDiscardsLateResultsAndFlushesBuffer(t *testing.T) {
	registry := NewRegistry()
	d := desc("aws", "ec2", "r1", "r2")
	gate := &gateExtractor{
		desc:        d,
		blockRegion: "r2",
		started:     make(chan struct{}),
		release:     make(chan struct{}),
		artifacts: map[string][]Artifact{
			"r1": makeArtifacts(1),
			"r2": makeArtifacts(4),
		},
	}
	if err := registry.Register(d, gate); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{
		Registry:                registry,
		Transport:               transport,
		MaxConcurrentExtractors: 1,
		DefaultBatchSize:        10,
	})

	jobID, err := o.StartJob(context.Background(), Criteria{
		Provider: "aws",
		Regions:  []string{"r1", "r2"},
	})
	if err != nil {
		t.Fatalf("failed to start job: %v", err)
	}

	// r1 finished and its artifact is buffered; r2 is now in flight.
	<-gate.started
	if err := o.CancelJob(jobID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(gate.release)

	job, err := o.Wait(context.Background(), jobID)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}

	if job.State != JobStateCancelled {
		t.Fatalf("expected cancelled, got %s", job.State)
	}
	c := job.Counters
	if c.ArtifactsProduced != 1 {
		t.Errorf("late result must be discarded: produced=%d", c.ArtifactsProduced)
	}
	if c.ArtifactsDelivered != 1 || c.BatchesDelivered != 1 {
		t.Errorf("buffered artifact must be flushed: %+v", c)
	}
	batches := transport.sent()
	if len(batches) != 1 || len(batches[0].Artifacts) != 1 {
		t.Errorf("expected one flushed batch of 1, got %+v", batches)
	}
}

func TestCancelTerminalJobIsRejected(t *testing.T) {
	transport := &captureTransport{}
	o := newTestOrchestrator(t, Options{Registry: NewRegistry(), Transport: transport})

	job := runToCompletion(t, o, Criteria{})
	if err := o.CancelJob(job.ID); !IsAlreadyTerminal(err) {
		t.Errorf("expected ALREADY_TERMINAL, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	o := newTestOrchestrator(t, Options{Registry: NewRegistry(), Transport: &captureTransport{}})
	if err := o.CancelJob("missing"); !IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetJobStatusUnknown(t *testing.T) {
	o := newTestOrchestrator(t, Options{Registry: NewRegistry(), Transport: &captureTransport{}})
	if _, err := o.GetJobStatus("missing"); !IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestDeliveryFailureIsRecordedNotFatal(t *testing.T) {
	registry := NewRegistry()
	d := desc("aws", "ec2")
	if err := registry.Register(d, &staticExtractor{desc: d, artifacts: makeArtifacts(3)}); err != nil {
		t.Fatal(err)
	}

	transport := &captureTransport{failWith: NewPermanentError("sink rejected batch", nil).WithCode(ErrCodeDeliveryFailed)}
	o := newTestOrchestrator(t, Options{Registry: registry, Transport: transport})

	job := runToCompletion(t, o, Criteria{Provider: "aws", BatchSize: 2})

	if job.State != JobStateCompleted {
		t.Fatalf("delivery failures must not fail the job, got %s", job.State)
	}
	c := job.Counters
	if c.ArtifactsProduced != 3 {
		t.Errorf("expected 3 produced, got %d", c.ArtifactsProduced)
	}
	if c.ArtifactsDelivered != 0 || c.BatchesDelivered != 0 {
		t.Errorf("nothing was delivered: %+v", c)
	}
	if c.DeliveryFailures != 2 {
		t.Errorf("expected 2 delivery failures, got %d", c.DeliveryFailures)
	}
	for _, rec := range job.Errors {
		if rec.Kind != ErrorKindDelivery {
			t.Errorf("unexpected record kind %s", rec.Kind)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	registry := NewRegistry()
	d := desc("aws", "ec2", "r1")
	gate := &gateExtractor{
		desc:        d,
		blockRegion: "r1",
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	if err := registry.Register(d, gate); err != nil {
		t.Fatal(err)
	}

	o := newTestOrchestrator(t, Options{Registry: registry, Transport: &captureTransport{}})
	jobID, err := o.StartJob(context.Background(), Criteria{Provider: "aws", Regions: []string{"r1"}})
	if err != nil {
		t.Fatalf("failed to start job: %v", err)
	}
	<-gate.started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := o.Wait(ctx, jobID); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(gate.release)
	if _, err := o.Wait(context.Background(), jobID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHistoryMirroring(t *testing.T) {
	registry := NewRegistry()
	good := desc("aws", "s3")
	if err := registry.Register(good, &staticExtractor{desc: good, artifacts: makeArtifacts(2)}); err != nil {
		t.Fatal(err)
	}
	bad := desc("aws", "ec2")
	if err := registry.Register(bad, &staticExtractor{
		desc: bad,
		err:  NewTransientError("api unavailable", nil),
	}); err != nil {
		t.Fatal(err)
	}

	history := &fakeHistory{}
	o := newTestOrchestrator(t, Options{
		Registry:  registry,
		Transport: &captureTransport{},
		History:   history,
	})

	job := runToCompletion(t, o, Criteria{Provider: "aws"})

	history.mu.Lock()
	defer history.mu.Unlock()
	if len(history.jobs) == 0 {
		t.Fatal("expected terminal job saved to history")
	}
	saved := history.jobs[len(history.jobs)-1]
	if saved.ID != job.ID || saved.State != JobStateCompleted {
		t.Errorf("unexpected saved job: %+v", saved)
	}
	if len(history.errors) != 1 {
		t.Errorf("expected 1 history error record, got %d", len(history.errors))
	}
	if len(history.deliveries) != 1 || !history.deliveries[0].Delivered {
		t.Errorf("expected 1 successful delivery record, got %+v", history.deliveries)
	}
}
