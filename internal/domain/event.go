package domain

import "time"

// EventType names a job lifecycle transition.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is one lifecycle notification. Terminal is set on failed events
// that will not be retried.
type Event struct {
	Type     EventType `json:"type"`
	Queue    string    `json:"queue"`
	JobID    string    `json:"job_id"`
	JobType  string    `json:"job_type"`
	Attempt  int       `json:"attempt,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
	Terminal bool      `json:"terminal,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
	At       time.Time `json:"at"`
}

// NewEvent builds an event for job at the given time.
func NewEvent(t EventType, job *Job, at time.Time) Event {
	return Event{
		Type:     t,
		Queue:    job.Queue,
		JobID:    job.ID,
		JobType:  job.Type,
		Attempt:  job.AttemptsMade,
		Progress: job.Progress,
		At:       at,
	}
}
