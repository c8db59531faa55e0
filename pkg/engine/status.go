package engine

import (
	"encoding/json"
	"fmt"
)

// JobState represents the lifecycle state of an extraction job.
//
// Transitions are monotonic: PENDING -> RUNNING -> (COMPLETED | FAILED),
// with CANCELLED reachable from PENDING or RUNNING. A terminal state is
// never left.
type JobState string

const (
	// JobStatePending indicates the job is created but the extractor set
	// has not been resolved yet.
	JobStatePending JobState = "pending"

	// JobStateRunning indicates extractors have been resolved and dispatched.
	JobStateRunning JobState = "running"

	// JobStateCompleted indicates all dispatched extractors finished and all
	// batches were flushed. Individual extractor or delivery failures do not
	// prevent this state; they are recorded on the job instead.
	JobStateCompleted JobState = "completed"

	// JobStateFailed indicates a job-level fault prevented any extraction
	// from starting (invalid criteria, resolution failure). Distinct from
	// per-extractor failures, which never fail the job.
	JobStateFailed JobState = "failed"

	// JobStateCancelled indicates the job was cancelled by request. In-flight
	// extractor calls run to completion but their results are discarded.
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal returns true if the job state represents a final state.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// IsActive returns true if the job is pending or running.
func (s JobState) IsActive() bool {
	return s == JobStatePending || s == JobStateRunning
}

// Validate checks if the job state is valid.
func (s JobState) Validate() error {
	switch s {
	case JobStatePending, JobStateRunning, JobStateCompleted,
		JobStateFailed, JobStateCancelled:
		return nil
	default:
		return fmt.Errorf("invalid job state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *JobState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = JobState(str)
	return s.Validate()
}

// ErrorKind classifies an ErrorRecord on a job.
type ErrorKind string

const (
	// ErrorKindResolution marks a fault that prevented the job from starting.
	ErrorKindResolution ErrorKind = "resolution"

	// ErrorKindExtraction marks a single extractor call that failed.
	ErrorKindExtraction ErrorKind = "extraction"

	// ErrorKindDelivery marks a batch whose delivery exhausted retries.
	ErrorKindDelivery ErrorKind = "delivery"
)

// Validate checks if the error kind is valid.
func (k ErrorKind) Validate() error {
	switch k {
	case ErrorKindResolution, ErrorKindExtraction, ErrorKindDelivery:
		return nil
	default:
		return fmt.Errorf("invalid error kind: %s", k)
	}
}
