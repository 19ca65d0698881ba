package queue

import (
	"context"
	"fmt"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Backend is one implementation of the queue contract. Durable runs jobs
// asynchronously from a shared store; Inline runs them in the caller.
type Backend interface {
	Register(def domain.QueueDefinition) error
	// Submit stores job. job is built by the caller and may be mutated.
	Submit(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, queue, id string) (*domain.Job, error)
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error)
	Counts(ctx context.Context, queue string) (domain.JobCounts, error)
	Ping(ctx context.Context) error
	Start(ctx context.Context)
	Wait()
}

// cleanable limits Clean to finished states. Empty means completed.
func cleanable(opts domain.CleanOptions) (domain.Status, error) {
	switch opts.Status {
	case "":
		return domain.StatusCompleted, nil
	case domain.StatusCompleted, domain.StatusFailed:
		return opts.Status, nil
	}
	return "", fmt.Errorf("clean: status must be %s or %s, got %q", domain.StatusCompleted, domain.StatusFailed, opts.Status)
}
