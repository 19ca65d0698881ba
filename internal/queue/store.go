// Package queue runs named job queues: submission, bounded worker pools,
// retries with backoff and lifecycle events.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Store is the job-state ledger of every queue. Only workers and backends
// mutate it; processors never see it.
//
// Implementations index each job by its Status: Save re-indexes, so moving a
// job between states is a field change followed by Save.
type Store interface {
	Ping(ctx context.Context) error
	// Add assigns the arrival sequence and stores a WAITING or DELAYED job.
	Add(ctx context.Context, job *domain.Job) error
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, queue, id string) (*domain.Job, error)
	// Pop promotes due delayed jobs, then marks the next waiting job ACTIVE
	// and returns it. Lower priority values come first, ties by arrival.
	// Returns (nil, nil) when nothing is ready.
	Pop(ctx context.Context, queue string, now time.Time) (*domain.Job, error)
	// Requeue moves ACTIVE jobs back to WAITING, e.g. after a crash.
	Requeue(ctx context.Context, queue string) (int, error)
	// Trim keeps the newest keep finished jobs in status and drops the rest.
	Trim(ctx context.Context, queue string, status domain.Status, keep int) (int, error)
	// Clean removes finished jobs that finished before cutoff, oldest first.
	Clean(ctx context.Context, queue string, status domain.Status, cutoff time.Time, limit int) (int, error)
	SetPaused(ctx context.Context, queue string, paused bool) error
	IsPaused(ctx context.Context, queue string) (bool, error)
	Counts(ctx context.Context, queue string) (domain.JobCounts, error)
}

// Processor runs one attempt of a job. progress accepts 0-100.
type Processor interface {
	Process(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error)

func (f ProcessorFunc) Process(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	return f(ctx, job, progress)
}

// History receives an append-only record of job outcomes.
type History interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	RecordExecution(ctx context.Context, exec *domain.JobExecution) error
}

// Publisher sends raw messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// WaitScore orders waiting jobs: priority first, then arrival sequence.
func WaitScore(job *domain.Job) float64 {
	return float64(job.Priority)*1e12 + float64(job.Seq)
}
