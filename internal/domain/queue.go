package domain

import (
	"fmt"
	"time"
)

// Named queues, one per job domain.
const (
	QueueETL           = "etl"
	QueueIA            = "ia"
	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

// BackoffType selects the delay strategy between retry attempts.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// BackoffPolicy is the delay strategy for a job's retries.
type BackoffPolicy struct {
	Type    BackoffType `json:"type" mapstructure:"type"`
	DelayMs int64       `json:"delay_ms" mapstructure:"delay_ms"`
}

// Delay returns the base delay.
func (b BackoffPolicy) Delay() time.Duration {
	return time.Duration(b.DelayMs) * time.Millisecond
}

// Retention is how many finished jobs a queue keeps.
type Retention struct {
	KeepCompleted int `json:"keep_completed"`
	KeepFailed    int `json:"keep_failed"`
}

// QueueDefinition is the immutable policy of one named queue.
type QueueDefinition struct {
	Name        string        `json:"name"`
	Concurrency int           `json:"concurrency"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	Backoff     BackoffPolicy `json:"backoff"`
	Timeout     time.Duration `json:"timeout"`
	Retention   Retention     `json:"retention"`
	// RateLimit is the maximum submissions per second accepted by the
	// ingress for this queue. Zero disables limiting.
	RateLimit int `json:"rate_limit"`
}

// Validate returns a *ConfigurationError when the definition is unusable.
func (d QueueDefinition) Validate() error {
	fail := func(format string, args ...any) error {
		return &ConfigurationError{Queue: d.Name, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case d.Name == "":
		return fail("queue name is empty")
	case d.Concurrency < 1:
		return fail("concurrency must be >= 1, got %d", d.Concurrency)
	case d.Attempts < 1:
		return fail("attempts must be >= 1, got %d", d.Attempts)
	case d.Backoff.Type != BackoffFixed && d.Backoff.Type != BackoffExponential:
		return fail("unknown backoff type %q", d.Backoff.Type)
	case d.Backoff.DelayMs < 0:
		return fail("backoff delay must not be negative")
	case d.Timeout < 0:
		return fail("timeout must not be negative")
	case d.Retention.KeepCompleted < 0 || d.Retention.KeepFailed < 0:
		return fail("retention counts must not be negative")
	case d.RateLimit < 0:
		return fail("rate limit must not be negative")
	}
	return nil
}

// DefaultQueues returns the stock definitions for the four job domains.
func DefaultQueues() []QueueDefinition {
	return []QueueDefinition{
		{
			Name:        QueueETL,
			Concurrency: 3,
			Priority:    1,
			Attempts:    3,
			Backoff:     BackoffPolicy{Type: BackoffExponential, DelayMs: 5000},
			Timeout:     10 * time.Minute,
			Retention:   Retention{KeepCompleted: 100, KeepFailed: 50},
		},
		{
			Name:        QueueIA,
			Concurrency: 2,
			Priority:    2,
			Attempts:    2,
			Backoff:     BackoffPolicy{Type: BackoffExponential, DelayMs: 10000},
			Timeout:     5 * time.Minute,
			Retention:   Retention{KeepCompleted: 50, KeepFailed: 50},
		},
		{
			Name:        QueueNotifications,
			Concurrency: 10,
			Priority:    3,
			Attempts:    5,
			Backoff:     BackoffPolicy{Type: BackoffFixed, DelayMs: 2000},
			Timeout:     30 * time.Second,
			Retention:   Retention{KeepCompleted: 200, KeepFailed: 100},
		},
		{
			Name:        QueueMaintenance,
			Concurrency: 1,
			Priority:    5,
			Attempts:    1,
			Backoff:     BackoffPolicy{Type: BackoffFixed, DelayMs: 60000},
			Timeout:     30 * time.Minute,
			Retention:   Retention{KeepCompleted: 10, KeepFailed: 10},
		},
	}
}
