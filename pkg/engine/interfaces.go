package engine

import (
	"context"
)

// Extractor is one unit that queries a single cloud service and returns
// normalized artifacts. Extractors are constructed with their credentials
// by the embedding application; the engine never inspects credentials.
type Extractor interface {
	// Describe returns the static descriptor of the extractor.
	Describe() Descriptor

	// Run extracts artifacts for one region. Region is empty for
	// region-agnostic extractors. Filters are the job's opaque filter map.
	// Artifact order in the returned slice is preserved into batches.
	Run(ctx context.Context, region string, filters map[string]string) ([]Artifact, error)
}

// Transport delivers one batch to an external sink. Implementations
// classify their failures with EngineError so the retry wrapper can tell
// retryable failures from fatal ones. Delivery is at-least-once: a batch
// may reach the sink more than once when an acknowledgment is lost.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Send delivers one batch. A nil return means the sink accepted it.
	Send(ctx context.Context, batch *Batch) error
}

// HistoryStore is an optional durable mirror of job state. The in-memory
// job store stays authoritative; history writes are best-effort and never
// affect job outcome.
type HistoryStore interface {
	// SaveJob upserts a snapshot of the job.
	SaveJob(ctx context.Context, job *Job) error

	// AppendJobError appends one error record for a job.
	AppendJobError(ctx context.Context, jobID string, rec ErrorRecord) error

	// RecordDelivery appends one batch delivery outcome.
	RecordDelivery(ctx context.Context, d Delivery) error
}
