package transports

import (
	"context"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
)

// RetryConfig controls the retry behavior of the Retrying decorator.
type RetryConfig struct {
	// MaxAttempts is the total number of send attempts, including the first.
	MaxAttempts int

	// BaseDelay is the initial backoff for transient errors. It doubles on
	// each subsequent attempt.
	BaseDelay time.Duration

	// ThrottleDelay is the initial backoff for throttled errors. Throttling
	// signals the sink needs room, so it starts higher than BaseDelay.
	ThrottleDelay time.Duration

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration

	// OnRetry is invoked before each retry sleep, after a failed attempt.
	// Used to feed retry metrics. May be nil.
	OnRetry func(transport string, attempt int, err error)
}

// DefaultRetryConfig returns the retry defaults used by the CLI.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     250 * time.Millisecond,
		ThrottleDelay: 2 * time.Second,
		MaxDelay:      30 * time.Second,
	}
}

// Retrying decorates a transport with bounded exponential backoff. Only
// errors classified as retryable (transient or throttled) are retried;
// permanent and unclassified errors surface immediately. The final error
// after exhausted attempts is returned unwrapped so callers keep the
// original classification.
type Retrying struct {
	inner engine.Transport
	cfg   RetryConfig
}

// NewRetrying wraps a transport with retry behavior. Zero-value config
// fields fall back to DefaultRetryConfig.
func NewRetrying(inner engine.Transport, cfg RetryConfig) *Retrying {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = def.ThrottleDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Retrying{inner: inner, cfg: cfg}
}

// Name returns the wrapped transport's name.
func (r *Retrying) Name() string {
	return r.inner.Name()
}

// Send delivers the batch, retrying retryable failures with backoff. A
// given batch is sent at most MaxAttempts times; the sink may therefore
// observe duplicates but never a reordered sequence from one attempt.
func (r *Retrying) Send(ctx context.Context, batch *engine.Batch) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = r.inner.Send(ctx, batch)
		if err == nil || !engine.IsRetryable(err) || attempt >= r.cfg.MaxAttempts {
			return err
		}

		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(r.inner.Name(), attempt, err)
		}

		select {
		case <-time.After(r.delay(attempt, err)):
		case <-ctx.Done():
			return engine.NewTransientError("send cancelled during backoff", ctx.Err()).
				WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
		}
	}
}

// delay computes the backoff before the next attempt. attempt is 1-based.
func (r *Retrying) delay(attempt int, err error) time.Duration {
	base := r.cfg.BaseDelay
	if engine.IsThrottled(err) {
		base = r.cfg.ThrottleDelay
	}
	d := base << (attempt - 1)
	if d > r.cfg.MaxDelay || d <= 0 {
		d = r.cfg.MaxDelay
	}
	return d
}
