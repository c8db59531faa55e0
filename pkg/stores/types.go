package stores

import (
	"context"
	"time"

	"github.com/stacktake/stacktake/pkg/engine"
)

// JobRow is the persisted form of a job. Criteria is stored as JSON so the
// schema does not chase the criteria shape.
type JobRow struct {
	ID                 string
	Provider           string
	Criteria           string
	State              string
	ArtifactsProduced  int64
	ArtifactsDelivered int64
	BatchesDelivered   int64
	ExtractorFailures  int64
	DeliveryFailures   int64
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

// JobErrorRow is one persisted error record of a job.
type JobErrorRow struct {
	ID        int64
	JobID     string
	Extractor string
	Region    string
	Kind      string
	Message   string
	Timestamp time.Time
}

// DeliveryRow is one persisted batch delivery attempt.
type DeliveryRow struct {
	ID        int64
	JobID     string
	Seq       uint64
	Artifacts int64
	Delivered bool
	Error     string
	Timestamp time.Time
}

// Store is the interface for job history persistence. It extends
// engine.HistoryStore with the read side used by the status CLI.
type Store interface {
	engine.HistoryStore

	// Init initializes the store (connections, pragmas).
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// Close releases the store's resources.
	Close() error

	// GetJob retrieves a persisted job by ID.
	GetJob(ctx context.Context, id string) (*JobRow, error)

	// ListJobs lists persisted jobs, newest first.
	ListJobs(ctx context.Context, limit, offset int) ([]*JobRow, error)

	// ListJobErrors lists the persisted error records of a job.
	ListJobErrors(ctx context.Context, jobID string) ([]*JobErrorRow, error)

	// ListDeliveries lists the persisted delivery attempts of a job.
	ListDeliveries(ctx context.Context, jobID string) ([]*DeliveryRow, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
