// Package handlers holds the job processors and the registry that routes a
// job to the processor registered for its type.
package handlers

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/queue"
)

// Handler processes jobs of a specific type. The returned value becomes
// the job's return value.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error)
	JobType() string
}

// Registry maps job types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

var _ queue.Processor = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Safe to call concurrently.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.JobType()] = h
}

// Get returns the handler for the given job type.
// Returns InvalidJobTypeError if not registered.
func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, &domain.InvalidJobTypeError{JobType: jobType}
	}
	return h, nil
}

// JobTypes lists the registered types in order.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Process routes job to its handler.
func (r *Registry) Process(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	h, err := r.Get(job.Type)
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, job, progress)
}

// decode unmarshals the job payload into v.
func decode(job *domain.Job, v any) error {
	if len(job.Payload) == 0 {
		return &domain.InvalidPayloadError{JobType: job.Type, Reason: "payload is empty"}
	}
	if err := json.Unmarshal(job.Payload, v); err != nil {
		return &domain.InvalidPayloadError{JobType: job.Type, Reason: "malformed JSON", Err: err}
	}
	return nil
}

func missing(job *domain.Job, field string) error {
	return &domain.InvalidPayloadError{JobType: job.Type, Reason: "missing required field '" + field + "'"}
}
