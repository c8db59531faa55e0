// Package localdir provides a transport that writes batches as JSON files
// to a local directory, one file per batch under the batch's job directory.
package localdir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stacktake/stacktake/pkg/engine"
)

// Config holds local directory transport configuration.
type Config struct {
	// Dir is the root directory batches are written under. Created if it
	// does not exist.
	Dir string

	// PrettyPrint indents the JSON output for human inspection.
	PrettyPrint bool
}

// Transport writes each batch to Dir/<job-id>/batch-<seq>.json. Writes go
// through a temp file and rename so readers never see partial batches.
type Transport struct {
	config Config
}

// New creates a local directory transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Transport{config: cfg}, nil
}

// Name implements engine.Transport.
func (t *Transport) Name() string { return "localdir" }

// Send implements engine.Transport.
func (t *Transport) Send(ctx context.Context, batch *engine.Batch) error {
	if err := ctx.Err(); err != nil {
		return engine.NewTransientError("send cancelled", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	jobDir := filepath.Join(t.config.Dir, batch.JobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return engine.NewPermanentError("failed to create job dir", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	var (
		data []byte
		err  error
	)
	if t.config.PrettyPrint {
		data, err = json.MarshalIndent(batch, "", "  ")
	} else {
		data, err = json.Marshal(batch)
	}
	if err != nil {
		return engine.NewPermanentError("failed to encode batch", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}

	final := filepath.Join(jobDir, fmt.Sprintf("batch-%06d.json", batch.Seq))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return engine.NewTransientError("failed to write batch file", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return engine.NewTransientError("failed to finalize batch file", err).
			WithCode(engine.ErrCodeDeliveryFailed).WithJob(batch.JobID)
	}
	return nil
}
