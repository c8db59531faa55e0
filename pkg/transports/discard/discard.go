// Package discard provides a transport that drops every batch. It is used
// for dry runs and as a test double.
package discard

import (
	"context"
	"sync"

	"github.com/stacktake/stacktake/pkg/engine"
)

// Transport accepts and drops all batches. It counts what it dropped so
// dry runs can still report totals.
type Transport struct {
	mu        sync.Mutex
	batches   int
	artifacts int
}

// New creates a discarding transport.
func New() *Transport {
	return &Transport{}
}

// Name implements engine.Transport.
func (t *Transport) Name() string { return "discard" }

// Send implements engine.Transport. It never fails.
func (t *Transport) Send(ctx context.Context, batch *engine.Batch) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches++
	t.artifacts += len(batch.Artifacts)
	return nil
}

// Stats returns the number of batches and artifacts dropped so far.
func (t *Transport) Stats() (batches, artifacts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches, t.artifacts
}
