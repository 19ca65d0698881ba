package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError is returned when a queue definition is unknown or malformed.
// It is fatal only for the queue it names.
type ConfigurationError struct {
	Queue  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("queue %q misconfigured: %s", e.Queue, e.Reason)
}

// TransportUnavailableError is returned when the durable broker cannot be reached.
type TransportUnavailableError struct {
	Op  string
	Err error
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("transport unavailable during %s: %v", e.Op, e.Err)
}

func (e *TransportUnavailableError) Unwrap() error { return e.Err }

// ParsingError is returned when a spreadsheet cannot be read or has no header row.
// Retrying the same input cannot succeed.
type ParsingError struct {
	Source string
	Reason string
	Err    error
}

func (e *ParsingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// ProcessorRuntimeError wraps any unexpected failure inside a processor,
// including recovered panics.
type ProcessorRuntimeError struct {
	JobID string
	Err   error
}

func (e *ProcessorRuntimeError) Error() string {
	return fmt.Sprintf("processor failed for job %s: %v", e.JobID, e.Err)
}

func (e *ProcessorRuntimeError) Unwrap() error { return e.Err }

// JobTimeoutError is returned when an attempt exceeds the per-job timeout.
type JobTimeoutError struct {
	JobID   string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s", e.JobID, e.Timeout)
}

// JobNotFoundError is returned when a job ID does not exist in a queue.
type JobNotFoundError struct {
	Queue string
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job not found: %s/%s", e.Queue, e.JobID)
}

// InvalidJobTypeError is returned when no processor is registered for a job type.
type InvalidJobTypeError struct {
	JobType string
}

func (e *InvalidJobTypeError) Error() string {
	return fmt.Sprintf("no processor registered for job type %q", e.JobType)
}

// InvalidPayloadError is returned when a job payload cannot be decoded or
// misses a required field. Retrying the same payload cannot succeed.
type InvalidPayloadError struct {
	JobType string
	Reason  string
	Err     error
}

func (e *InvalidPayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s payload: %s: %v", e.JobType, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.JobType, e.Reason)
}

func (e *InvalidPayloadError) Unwrap() error { return e.Err }

// RateLimitExceededError is returned when a queue exceeds its submission rate.
type RateLimitExceededError struct {
	Queue string
	Limit int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for queue %q: limit is %d", e.Queue, e.Limit)
}

// IsRetryable reports whether another attempt could change the outcome.
func IsRetryable(err error) bool {
	var parseErr *ParsingError
	var typeErr *InvalidJobTypeError
	var payloadErr *InvalidPayloadError
	return !errors.As(err, &parseErr) && !errors.As(err, &typeErr) && !errors.As(err, &payloadErr)
}
