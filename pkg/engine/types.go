package engine

import (
	"encoding/json"
	"strings"
	"time"
)

// Artifact is one normalized resource description produced by an extractor.
// Artifacts are immutable after creation and belong to exactly one job.
type Artifact struct {
	// Provider is the cloud provider id (e.g., "aws", "azure").
	Provider string `json:"provider"`

	// ResourceType is the fully-qualified resource type (e.g., "aws.ec2.instance").
	ResourceType string `json:"resource_type"`

	// ResourceID is the provider-side identifier of the resource.
	ResourceID string `json:"resource_id"`

	// Region is the region the resource was extracted from, if region-scoped.
	Region string `json:"region,omitempty"`

	// Metadata is arbitrary structured metadata about the resource.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Config is the normalized configuration payload of the resource.
	Config json.RawMessage `json:"config"`

	// Raw is the unprocessed provider response, if the extractor kept it.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Key returns the deduplication identity of the artifact. Delivery is
// at-least-once, so downstream consumers distinguish duplicates by
// provider plus resource id, never by batch sequence number.
func (a Artifact) Key() string {
	return a.Provider + "/" + a.ResourceID
}

// Batch is a bounded, ordered group of artifacts delivered together.
// All artifacts in a batch belong to the same job. A batch is consumed
// exactly once by a transport, then discarded.
type Batch struct {
	// JobID is the job all artifacts in this batch belong to.
	JobID string `json:"job_id"`

	// Seq is the per-job monotonically increasing sequence number,
	// carried for idempotency and tracing.
	Seq uint64 `json:"seq"`

	// Artifacts are the batch contents, in extractor output order.
	Artifacts []Artifact `json:"artifacts"`

	// CreatedAt is when the batch was cut.
	CreatedAt time.Time `json:"created_at"`
}

// Descriptor describes a registered extractor. Descriptors are static,
// loaded at registry construction, and immutable afterwards.
type Descriptor struct {
	// Provider is the cloud provider id this extractor covers.
	Provider string `json:"provider"`

	// Service is the provider service this extractor covers (e.g., "ec2").
	Service string `json:"service"`

	// Version is the extractor version.
	Version string `json:"version"`

	// RegionScoped reports whether the extractor must be run per region.
	// Region-agnostic extractors run once with an empty region.
	RegionScoped bool `json:"region_scoped"`

	// Regions lists the regions the extractor supports. Used when a job
	// does not narrow regions itself; empty means the extractor resolves
	// regions internally and is run once with an empty region.
	Regions []string `json:"regions,omitempty"`

	// ResourceTypes lists the fully-qualified resource types produced.
	ResourceTypes []string `json:"resource_types"`
}

// Key returns the registry key of the descriptor.
func (d Descriptor) Key() string {
	return d.Provider + ":" + d.Service
}

// Criteria is the selection criteria of a job.
type Criteria struct {
	// Provider narrows the job to one provider; empty means all providers.
	Provider string `json:"provider,omitempty"`

	// Services narrows the job to a set of services; empty means all
	// services of the matched providers.
	Services []string `json:"services,omitempty"`

	// Regions narrows region-scoped extractors to these regions; empty
	// means each extractor's supported regions.
	Regions []string `json:"regions,omitempty"`

	// Filters are opaque key-value filters passed through to extractors.
	Filters map[string]string `json:"filters,omitempty"`

	// BatchSize overrides the engine default batch size for this job.
	// Zero means the default; negative values are rejected.
	BatchSize int `json:"batch_size,omitempty"`
}

// Normalize trims criteria fields in place.
func (c *Criteria) Normalize() {
	c.Provider = strings.TrimSpace(c.Provider)
	for i, s := range c.Services {
		c.Services[i] = strings.TrimSpace(s)
	}
	for i, r := range c.Regions {
		c.Regions[i] = strings.TrimSpace(r)
	}
}

// Validate checks the criteria for job-level faults.
func (c Criteria) Validate() error {
	if c.BatchSize < 0 {
		return NewPermanentError("batch size must not be negative", nil).
			WithCode(ErrCodeValidation)
	}
	for _, s := range c.Services {
		if s == "" {
			return NewPermanentError("service filter contains an empty entry", nil).
				WithCode(ErrCodeValidation)
		}
	}
	return nil
}

// Counters are the aggregate counters of a job. Counters never decrease.
type Counters struct {
	// ArtifactsProduced is the number of artifacts produced by extractors.
	ArtifactsProduced int64 `json:"artifacts_produced"`

	// ArtifactsDelivered is the number of artifacts accepted by the transport.
	ArtifactsDelivered int64 `json:"artifacts_delivered"`

	// BatchesDelivered is the number of batches accepted by the transport.
	BatchesDelivered int64 `json:"batches_delivered"`

	// ExtractorFailures is the number of extractor calls that failed.
	ExtractorFailures int64 `json:"extractor_failures"`

	// DeliveryFailures is the number of batches lost after retry exhaustion.
	DeliveryFailures int64 `json:"delivery_failures"`
}

// ErrorRecord is one recorded failure on a job. Records are append-only.
type ErrorRecord struct {
	// Extractor is the provider:service identity, when applicable.
	Extractor string `json:"extractor,omitempty"`

	// Region is the region of the failing call, when applicable.
	Region string `json:"region,omitempty"`

	// Kind classifies the failure.
	Kind ErrorKind `json:"kind"`

	// Message is the failure message.
	Message string `json:"message"`

	// Timestamp is when the failure was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Job is one extraction request's full lifecycle and aggregate state.
// A job is owned exclusively by the orchestrator while active and is
// immutable once terminal, except for being read.
type Job struct {
	// ID is the unique, opaque job identifier.
	ID string `json:"id"`

	// Criteria is the selection criteria the job was started with.
	Criteria Criteria `json:"criteria"`

	// State is the current lifecycle state.
	State JobState `json:"state"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Counters are the aggregate counters of the job.
	Counters Counters `json:"counters"`

	// Errors are the recorded failures, in record order.
	Errors []ErrorRecord `json:"errors,omitempty"`
}

// Clone returns a deep copy of the job, safe to hand to callers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Errors = make([]ErrorRecord, len(j.Errors))
	copy(cp.Errors, j.Errors)
	cp.Criteria.Services = append([]string(nil), j.Criteria.Services...)
	cp.Criteria.Regions = append([]string(nil), j.Criteria.Regions...)
	if j.Criteria.Filters != nil {
		cp.Criteria.Filters = make(map[string]string, len(j.Criteria.Filters))
		for k, v := range j.Criteria.Filters {
			cp.Criteria.Filters[k] = v
		}
	}
	return &cp
}

// Delivery is one transport delivery attempt outcome, recorded for the
// job history log.
type Delivery struct {
	// JobID is the job the batch belonged to.
	JobID string `json:"job_id"`

	// Seq is the batch sequence number.
	Seq uint64 `json:"seq"`

	// Artifacts is the number of artifacts in the batch.
	Artifacts int `json:"artifacts"`

	// Delivered reports whether the transport accepted the batch.
	Delivered bool `json:"delivered"`

	// Error is the final delivery error message, if delivery failed.
	Error string `json:"error,omitempty"`

	// Timestamp is when the outcome was recorded.
	Timestamp time.Time `json:"timestamp"`
}
