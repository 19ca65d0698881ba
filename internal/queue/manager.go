package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
)

// Manager owns the queue registry and is the single entry point callers
// use to submit and inspect jobs. It is constructed once and passed by handle.
type Manager struct {
	primary  Backend
	fallback *Inline
	results  *cache.Results
	events   *EventBus
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	mu   sync.RWMutex
	defs map[string]domain.QueueDefinition
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFallback sets the inline backend used when the primary reports
// TransportUnavailableError at submission.
func WithFallback(i *Inline) ManagerOption           { return func(m *Manager) { m.fallback = i } }
func WithResults(r *cache.Results) ManagerOption     { return func(m *Manager) { m.results = r } }
func WithEventBus(b *EventBus) ManagerOption         { return func(m *Manager) { m.events = b } }
func WithManagerLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }
func WithIDGenerator(f func() string) ManagerOption  { return func(m *Manager) { m.newID = f } }

// NewManager builds a manager over primary.
func NewManager(primary Backend, opts ...ManagerOption) *Manager {
	m := &Manager{
		primary: primary,
		logger:  slog.Default(),
		newID:   uuid.NewString,
		now:     func() time.Time { return time.Now().UTC() },
		defs:    make(map[string]domain.QueueDefinition),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = NewEventBus()
	}
	return m
}

func (m *Manager) hasFallback() bool {
	return m.fallback != nil && Backend(m.fallback) != m.primary
}

// Register validates def and registers it with every backend. A
// ConfigurationError affects only this queue.
func (m *Manager) Register(def domain.QueueDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := m.primary.Register(def); err != nil {
		return err
	}
	if m.hasFallback() {
		if err := m.fallback.Register(def); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.defs[def.Name] = def
	m.mu.Unlock()
	return nil
}

func (m *Manager) definition(queue string) (domain.QueueDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[queue]
	if !ok {
		return def, &domain.ConfigurationError{Queue: queue, Reason: "queue is not registered"}
	}
	return def, nil
}

// Queues returns the registered definitions ordered by priority then name.
func (m *Manager) Queues() []domain.QueueDefinition {
	m.mu.RLock()
	out := make([]domain.QueueDefinition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Events is the lifecycle stream of every queue.
func (m *Manager) Events() *EventBus { return m.events }

// Degraded reports whether the primary backend is the inline one.
func (m *Manager) Degraded() bool {
	_, ok := m.primary.(*Inline)
	return ok
}

// Submit enqueues a job and returns it without waiting for execution. When
// the durable backend is unreachable the job runs inline instead, and the
// returned job already holds its outcome.
func (m *Manager) Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts domain.JobOptions) (*domain.Job, error) {
	def, err := m.definition(queue)
	if err != nil {
		return nil, err
	}
	if jobType == "" {
		return nil, &domain.InvalidJobTypeError{JobType: jobType}
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	job := domain.NewJob(m.newID(), def, jobType, payload, opts, m.now())
	err = m.primary.Submit(ctx, job)

	var transportErr *domain.TransportUnavailableError
	if errors.As(err, &transportErr) && m.hasFallback() {
		m.logger.Warn("durable backend unavailable, executing job inline without retries",
			slog.String("queue", queue),
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		telemetry.DegradedSubmissions.WithLabelValues(queue).Inc()
		err = m.fallback.Submit(ctx, job)
	}
	if err != nil {
		return nil, fmt.Errorf("submit to queue %s: %w", queue, err)
	}

	telemetry.JobsSubmitted.WithLabelValues(queue, jobType).Inc()
	return job.Clone(), nil
}

// GetJob looks the job up in the primary backend, then in the inline ledger.
func (m *Manager) GetJob(ctx context.Context, queue, id string) (*domain.Job, error) {
	if _, err := m.definition(queue); err != nil {
		return nil, err
	}
	job, err := m.primary.GetJob(ctx, queue, id)
	if err == nil || !m.hasFallback() {
		return job, err
	}
	var notFound *domain.JobNotFoundError
	var transportErr *domain.TransportUnavailableError
	if !errors.As(err, &notFound) && !errors.As(err, &transportErr) {
		return nil, err
	}
	if fj, ferr := m.fallback.GetJob(ctx, queue, id); ferr == nil {
		return fj, nil
	}
	return nil, err
}

// Pause stops new dequeues on queue; in-flight jobs finish.
func (m *Manager) Pause(ctx context.Context, queue string) error {
	return m.each(queue, func(b Backend) error { return b.Pause(ctx, queue) })
}

// Resume makes queue available again.
func (m *Manager) Resume(ctx context.Context, queue string) error {
	return m.each(queue, func(b Backend) error { return b.Resume(ctx, queue) })
}

func (m *Manager) each(queue string, fn func(Backend) error) error {
	if _, err := m.definition(queue); err != nil {
		return err
	}
	if err := fn(m.primary); err != nil {
		return fmt.Errorf("queue %s: %w", queue, err)
	}
	if m.hasFallback() {
		if err := fn(m.fallback); err != nil {
			return fmt.Errorf("queue %s inline: %w", queue, err)
		}
	}
	return nil
}

// Clean removes finished jobs matching opts and returns how many went.
func (m *Manager) Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error) {
	if _, err := m.definition(queue); err != nil {
		return 0, err
	}
	n, err := m.primary.Clean(ctx, queue, opts)
	if err != nil {
		return n, fmt.Errorf("clean queue %s: %w", queue, err)
	}
	if m.hasFallback() {
		fn, err := m.fallback.Clean(ctx, queue, opts)
		if err != nil {
			return n, fmt.Errorf("clean queue %s inline: %w", queue, err)
		}
		n += fn
	}
	return n, nil
}

// Counts sums job states across backends.
func (m *Manager) Counts(ctx context.Context, queue string) (domain.JobCounts, error) {
	if _, err := m.definition(queue); err != nil {
		return domain.JobCounts{}, err
	}
	c, err := m.primary.Counts(ctx, queue)
	if err != nil {
		return c, fmt.Errorf("count queue %s: %w", queue, err)
	}
	if m.hasFallback() {
		fc, err := m.fallback.Counts(ctx, queue)
		if err == nil {
			c.Waiting += fc.Waiting
			c.Delayed += fc.Delayed
			c.Active += fc.Active
			c.Completed += fc.Completed
			c.Failed += fc.Failed
		}
	}
	return c, nil
}

// GetResult returns the cached ETL result, or nil when it is not yet
// available or has expired.
func (m *Manager) GetResult(ctx context.Context, jobID string) (*inventory.JobResult, error) {
	if m.results == nil {
		return nil, nil
	}
	return m.results.Get(ctx, jobID)
}

// Ping checks the primary backend.
func (m *Manager) Ping(ctx context.Context) error {
	return m.primary.Ping(ctx)
}

// Start launches worker pools.
func (m *Manager) Start(ctx context.Context) {
	m.primary.Start(ctx)
	if m.hasFallback() {
		m.fallback.Start(ctx)
	}
}

// Wait blocks until pools stop and in-flight jobs finish.
func (m *Manager) Wait() {
	m.primary.Wait()
	if m.hasFallback() {
		m.fallback.Wait()
	}
}
