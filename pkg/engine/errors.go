// Package engine provides the core types and components of the Stacktake
// extraction engine: the extractor registry, the artifact batcher, the
// in-memory job store, and the orchestrator that ties them together.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary sink unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid criteria, authentication rejected, unknown job.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with extraction context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// JobID is the job the error belongs to, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Extractor is the provider:service identity of the failing extractor.
	Extractor string `json:"extractor,omitempty"`

	// Region is the region the failing call targeted, if region-scoped.
	Region string `json:"region,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Extractor != "" {
		msg += fmt.Sprintf(" (extractor=%s", e.Extractor)
		if e.Region != "" {
			msg += fmt.Sprintf(", region=%s", e.Region)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithJob adds job context to an error.
func (e *EngineError) WithJob(jobID string) *EngineError {
	e.JobID = jobID
	return e
}

// WithExtractor adds extractor identity to an error.
func (e *EngineError) WithExtractor(extractor, region string) *EngineError {
	e.Extractor = extractor
	e.Region = region
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and throttled errors are retryable; unclassified errors are not.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// IsNotFound returns true if the error carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeNotFound
}

// IsAlreadyTerminal returns true if the error carries the ALREADY_TERMINAL code.
func IsAlreadyTerminal(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Code == ErrCodeAlreadyTerminal
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeAlreadyTerminal  = "ALREADY_TERMINAL"
	ErrCodeResolutionFailed = "RESOLUTION_FAILED"
	ErrCodeExtractionFailed = "EXTRACTION_FAILED"
	ErrCodeDeliveryFailed   = "DELIVERY_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
