// Package httppush provides a transport that POSTs batches as JSON to an
// HTTP endpoint.
package httppush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
)

// Config holds HTTP push transport configuration.
type Config struct {
	// Endpoint is the URL batches are POSTed to.
	Endpoint string

	// Headers are added to every request, e.g. for authentication.
	Headers map[string]string

	// Timeout bounds each request. Defaults to 30 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests. When nil a
	// client with the configured timeout is used.
	Client *http.Client
}

// Transport delivers batches by POSTing them to a single endpoint. Response
// status codes drive the error classification the retry decorator acts on:
// 429 is throttled, 408 and 5xx are transient, other non-2xx are permanent.
type Transport struct {
	config Config
	client *http.Client
}

// New creates an HTTP push transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Transport{config: cfg, client: client}, nil
}

// Name implements engine.Transport.
func (t *Transport) Name() string { return "httppush" }

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, batch *engine.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return engine.NewPermanentError("failed to encode batch", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return engine.NewPermanentError("failed to build request", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stacktake-Job-ID", batch.JobID)
	req.Header.Set("X-Stacktake-Batch-Seq", fmt.Sprintf("%d", batch.Seq))
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return engine.NewTransientError("request failed", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode, batch.JobID)
}

// classifyStatus maps an HTTP response status to an engine error class.
func classifyStatus(status int, jobID string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return engine.NewThrottledError(
			fmt.Sprintf("sink rate limited (status %d)", status), nil).
			WithCode(engine.ErrCodeRateLimited).WithJob(jobID)
	case status == http.StatusRequestTimeout || status >= 500:
		return engine.NewTransientError(
			fmt.Sprintf("sink unavailable (status %d)", status), nil).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(jobID)
	default:
		return engine.NewPermanentError(
			fmt.Sprintf("sink rejected batch (status %d)", status), nil).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(jobID)
	}
}
