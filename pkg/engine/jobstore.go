package engine

import (
	"sort"
	"sync"
	"time"
)

// JobStore is the process-wide map from job id to job state. It is mutated
// only by the orchestrator; status-query callers get deep-copied snapshots.
// All critical sections are short and non-blocking.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Create adds a new job. The id must be unused.
func (s *JobStore) Create(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return NewPermanentError("job id already exists", nil).
			WithCode(ErrCodeAlreadyExists).WithJob(job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Get returns a snapshot of a job.
func (s *JobStore) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, exists := s.jobs[id]
	if !exists {
		return nil, NewPermanentError("job not found", nil).
			WithCode(ErrCodeNotFound).WithJob(id)
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs, newest first.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SetState transitions a job to a new state. Terminal states are sticky:
// a transition away from a terminal state is rejected.
func (s *JobStore) SetState(id string, state JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, exists := s.jobs[id]
	if !exists {
		return NewPermanentError("job not found", nil).
			WithCode(ErrCodeNotFound).WithJob(id)
	}
	if job.State.IsTerminal() {
		return NewPermanentError("job is already terminal", nil).
			WithCode(ErrCodeAlreadyTerminal).WithJob(id)
	}
	job.State = state
	if state.IsTerminal() {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return nil
}

// AddProduced increments the produced-artifacts counter.
func (s *JobStore) AddProduced(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[id]; exists {
		job.Counters.ArtifactsProduced += int64(n)
	}
}

// AddDelivered increments the delivered-artifacts and delivered-batches counters.
func (s *JobStore) AddDelivered(id string, artifacts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[id]; exists {
		job.Counters.ArtifactsDelivered += int64(artifacts)
		job.Counters.BatchesDelivered++
	}
}

// IncExtractorFailures increments the extractor-failure counter.
func (s *JobStore) IncExtractorFailures(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[id]; exists {
		job.Counters.ExtractorFailures++
	}
}

// IncDeliveryFailures increments the delivery-failure counter.
func (s *JobStore) IncDeliveryFailures(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[id]; exists {
		job.Counters.DeliveryFailures++
	}
}

// AppendError appends an error record to a job. Records are never removed.
func (s *JobStore) AppendError(id string, rec ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, exists := s.jobs[id]; exists {
		if rec.Timestamp.IsZero() {
			rec.Timestamp = time.Now().UTC()
		}
		job.Errors = append(job.Errors, rec)
	}
}
