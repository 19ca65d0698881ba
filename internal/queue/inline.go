package queue

import (
	"context"
	"sync"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Inline executes each job synchronously inside Submit, once, with no retry
// or backoff. It keeps its own in-memory ledger so GetJob still answers.
// Concurrency per queue is still bounded.
type Inline struct {
	exec  *executor
	store *MemoryStore

	mu    sync.RWMutex
	defs  map[string]domain.QueueDefinition
	slots map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewInline builds the in-process synchronous backend.
func NewInline(processor Processor, opts ...Option) *Inline {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	store := NewMemoryStore()
	return &Inline{
		exec:  &executor{settings: s, store: store, processor: processor, degraded: true},
		store: store,
		defs:  make(map[string]domain.QueueDefinition),
		slots: make(map[string]chan struct{}),
	}
}

func (i *Inline) Register(def domain.QueueDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.defs[def.Name]; ok {
		return &domain.ConfigurationError{Queue: def.Name, Reason: "already registered"}
	}
	i.defs[def.Name] = def
	i.slots[def.Name] = make(chan struct{}, def.Concurrency)
	return nil
}

func (i *Inline) definition(queue string) (domain.QueueDefinition, chan struct{}, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	def, ok := i.defs[queue]
	if !ok {
		return def, nil, &domain.ConfigurationError{Queue: queue, Reason: "queue is not registered"}
	}
	return def, i.slots[queue], nil
}

// Submit runs job to completion before returning. Delays are ignored.
// On a paused queue Submit returns with the job WAITING and Resume runs it.
func (i *Inline) Submit(ctx context.Context, job *domain.Job) error {
	def, slots, err := i.definition(job.Queue)
	if err != nil {
		return err
	}
	job.Status = domain.StatusWaiting
	job.ReadyAt = nil
	if err := i.store.Add(ctx, job); err != nil {
		return err
	}
	i.exec.emit(domain.EventWaiting, job, "")

	if paused, _ := i.store.IsPaused(ctx, job.Queue); paused {
		return nil
	}
	// A concurrent Resume may have drained the job already.
	if !i.store.Claim(job.Queue, job.ID, i.exec.now()) {
		return nil
	}
	return i.run(ctx, def, slots, job)
}

func (i *Inline) run(ctx context.Context, def domain.QueueDefinition, slots chan struct{}, job *domain.Job) error {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slots }()

	i.wg.Add(1)
	defer i.wg.Done()
	i.exec.execute(ctx, def, job, false)
	return nil
}

func (i *Inline) GetJob(ctx context.Context, queue, id string) (*domain.Job, error) {
	if _, _, err := i.definition(queue); err != nil {
		return nil, err
	}
	return i.store.Get(ctx, queue, id)
}

func (i *Inline) Pause(ctx context.Context, queue string) error {
	if _, _, err := i.definition(queue); err != nil {
		return err
	}
	return i.store.SetPaused(ctx, queue, true)
}

// Resume unpauses queue and runs the jobs that waited, in the background.
func (i *Inline) Resume(ctx context.Context, queue string) error {
	def, slots, err := i.definition(queue)
	if err != nil {
		return err
	}
	if err := i.store.SetPaused(ctx, queue, false); err != nil {
		return err
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		bg := context.WithoutCancel(ctx)
		for {
			job, _ := i.store.Pop(bg, queue, i.exec.now())
			if job == nil {
				return
			}
			_ = i.run(bg, def, slots, job)
		}
	}()
	return nil
}

func (i *Inline) Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error) {
	if _, _, err := i.definition(queue); err != nil {
		return 0, err
	}
	status, err := cleanable(opts)
	if err != nil {
		return 0, err
	}
	return i.store.Clean(ctx, queue, status, i.exec.now().Add(-opts.OlderThan), opts.Limit)
}

func (i *Inline) Counts(ctx context.Context, queue string) (domain.JobCounts, error) {
	if _, _, err := i.definition(queue); err != nil {
		return domain.JobCounts{}, err
	}
	return i.store.Counts(ctx, queue)
}

func (i *Inline) Ping(context.Context) error { return nil }

func (i *Inline) Start(context.Context) {}

// Wait blocks until jobs started by Resume have finished.
func (i *Inline) Wait() { i.wg.Wait() }
