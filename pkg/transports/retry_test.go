package transports

import (
	"context"
	"testing"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
)

// fakeTransport fails a configurable number of times before succeeding.
type fakeTransport struct {
	failures int
	failWith error
	calls    int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Send(ctx context.Context, batch *engine.Batch) error {
	f.calls++
	if f.calls <= f.failures {
		return f.failWith
	}
	return nil
}

func testBatch() *engine.Batch {
	return &engine.Batch{
		JobID:     "job-1",
		Seq:       1,
		Artifacts: []engine.Artifact{{Provider: "aws", ResourceID: "i-1"}},
		CreatedAt: time.Now(),
	}
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		ThrottleDelay: time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
	}
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	inner := &fakeTransport{
		failures: 2,
		failWith: engine.NewTransientError("sink unavailable", nil),
	}
	r := NewRetrying(inner, fastRetryConfig())

	if err := r.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	inner := &fakeTransport{
		failures: 10,
		failWith: engine.NewPermanentError("rejected", nil),
	}
	r := NewRetrying(inner, fastRetryConfig())

	err := r.Send(context.Background(), testBatch())
	if err == nil {
		t.Fatal("expected error")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 attempt for permanent error, got %d", inner.calls)
	}
}

func TestRetryingExhaustsAttempts(t *testing.T) {
	inner := &fakeTransport{
		failures: 10,
		failWith: engine.NewThrottledError("rate limited", nil),
	}
	r := NewRetrying(inner, fastRetryConfig())

	err := r.Send(context.Background(), testBatch())
	if err == nil {
		t.Fatal("expected error after exhausted attempts")
	}
	if !engine.IsThrottled(err) {
		t.Errorf("expected the original throttled error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryingObservesRetries(t *testing.T) {
	inner := &fakeTransport{
		failures: 1,
		failWith: engine.NewTransientError("flaky", nil),
	}

	var observed []int
	cfg := fastRetryConfig()
	cfg.OnRetry = func(transport string, attempt int, err error) {
		if transport != "fake" {
			t.Errorf("unexpected transport name %q", transport)
		}
		observed = append(observed, attempt)
	}
	r := NewRetrying(inner, cfg)

	if err := r.Send(context.Background(), testBatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(observed) != 1 || observed[0] != 1 {
		t.Errorf("expected one retry observation for attempt 1, got %v", observed)
	}
}

func TestRetryingCancelledDuringBackoff(t *testing.T) {
	inner := &fakeTransport{
		failures: 10,
		failWith: engine.NewTransientError("flaky", nil),
	}
	cfg := fastRetryConfig()
	cfg.BaseDelay = time.Minute
	r := NewRetrying(inner, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Send(ctx, testBatch())
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected error after context cancellation")
		}
		if !engine.IsTransient(err) {
			t.Errorf("expected transient classification, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send did not return after cancellation")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", inner.calls)
	}
}
