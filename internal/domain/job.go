package domain

import (
	"encoding/json"
	"time"
)

// Status represents the states a job can be in.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusDelayed   Status = "DELAYED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobOptions are the per-submission overrides of a queue's defaults.
// Zero values mean "use the queue default".
type JobOptions struct {
	Priority  *int           `json:"priority,omitempty"`
	DelayMs   int64          `json:"delay,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	TimeoutMs int64          `json:"timeout_ms,omitempty"`
	Backoff   *BackoffPolicy `json:"backoff,omitempty"`
}

// Job is one unit of asynchronous work submitted to a named queue.
type Job struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Priority      int             `json:"priority"`
	Seq           int64           `json:"seq"`
	MaxAttempts   int             `json:"max_attempts"`
	AttemptsMade  int             `json:"attempts_made"`
	Backoff       BackoffPolicy   `json:"backoff"`
	TimeoutMs     int64           `json:"timeout_ms"`
	Progress      int             `json:"progress"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ReadyAt       *time.Time      `json:"ready_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// NewJob builds a job for def, merging opts over the queue defaults.
func NewJob(id string, def QueueDefinition, jobType string, payload json.RawMessage, opts JobOptions, now time.Time) *Job {
	job := &Job{
		ID:          id,
		Queue:       def.Name,
		Type:        jobType,
		Payload:     payload,
		Status:      StatusWaiting,
		Priority:    def.Priority,
		MaxAttempts: def.Attempts,
		Backoff:     def.Backoff,
		TimeoutMs:   def.Timeout.Milliseconds(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Priority != nil {
		job.Priority = *opts.Priority
	}
	if opts.Attempts > 0 {
		job.MaxAttempts = opts.Attempts
	}
	if opts.TimeoutMs > 0 {
		job.TimeoutMs = opts.TimeoutMs
	}
	if opts.Backoff != nil {
		job.Backoff = *opts.Backoff
	}
	if opts.DelayMs > 0 {
		readyAt := now.Add(time.Duration(opts.DelayMs) * time.Millisecond)
		job.ReadyAt = &readyAt
		job.Status = StatusDelayed
	}
	return job
}

// Timeout returns the per-attempt execution limit. Zero means unbounded.
func (j *Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMs) * time.Millisecond
}

// CanRetry reports whether another attempt is allowed after a failure.
func (j *Job) CanRetry() bool {
	return j.AttemptsMade < j.MaxAttempts
}

// Clone returns a deep copy safe to hand to callers outside the ledger.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.ReturnValue != nil {
		c.ReturnValue = append(json.RawMessage(nil), j.ReturnValue...)
	}
	c.ReadyAt = copyTime(j.ReadyAt)
	c.ProcessedAt = copyTime(j.ProcessedAt)
	c.FinishedAt = copyTime(j.FinishedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// JobExecution records a single execution attempt of a job.
type JobExecution struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Queue      string    `json:"queue"`
	WorkerID   string    `json:"worker_id"`
	Attempt    int       `json:"attempt"`
	Status     Status    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// CleanOptions selects finished jobs to remove from a queue.
type CleanOptions struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
	Status    Status        `json:"status"`
}

// JobCounts is the number of jobs per state in one queue.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Paused    bool  `json:"paused"`
}
