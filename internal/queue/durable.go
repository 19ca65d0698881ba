package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Durable keeps jobs in a Store and runs one Worker per queue.
type Durable struct {
	exec *executor

	mu      sync.RWMutex
	defs    map[string]domain.QueueDefinition
	workers map[string]*Worker
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewDurable builds a backend over store. Workers start with Start.
func NewDurable(store Store, processor Processor, opts ...Option) *Durable {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Durable{
		exec:    &executor{settings: s, store: store, processor: processor},
		defs:    make(map[string]domain.QueueDefinition),
		workers: make(map[string]*Worker),
	}
}

func (d *Durable) Register(def domain.QueueDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.defs[def.Name]; ok {
		return &domain.ConfigurationError{Queue: def.Name, Reason: "already registered"}
	}
	d.defs[def.Name] = def
	w := newWorker(def, d.exec)
	d.workers[def.Name] = w
	if d.runCtx != nil {
		d.startWorker(d.runCtx, w)
	}
	return nil
}

func (d *Durable) worker(queue string) (*Worker, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[queue]
	if !ok {
		return nil, &domain.ConfigurationError{Queue: queue, Reason: "queue is not registered"}
	}
	return w, nil
}

func (d *Durable) Submit(ctx context.Context, job *domain.Job) error {
	w, err := d.worker(job.Queue)
	if err != nil {
		return err
	}
	if err := d.exec.store.Add(ctx, job); err != nil {
		return err
	}
	d.exec.emit(domain.EventWaiting, job, "")
	w.Notify()
	return nil
}

func (d *Durable) GetJob(ctx context.Context, queue, id string) (*domain.Job, error) {
	if _, err := d.worker(queue); err != nil {
		return nil, err
	}
	return d.exec.store.Get(ctx, queue, id)
}

// Pause stops new dequeues. In-flight jobs finish.
func (d *Durable) Pause(ctx context.Context, queue string) error {
	if _, err := d.worker(queue); err != nil {
		return err
	}
	return d.exec.store.SetPaused(ctx, queue, true)
}

func (d *Durable) Resume(ctx context.Context, queue string) error {
	w, err := d.worker(queue)
	if err != nil {
		return err
	}
	if err := d.exec.store.SetPaused(ctx, queue, false); err != nil {
		return err
	}
	w.Notify()
	return nil
}

func (d *Durable) Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error) {
	if _, err := d.worker(queue); err != nil {
		return 0, err
	}
	status, err := cleanable(opts)
	if err != nil {
		return 0, err
	}
	return d.exec.store.Clean(ctx, queue, status, d.exec.now().Add(-opts.OlderThan), opts.Limit)
}

func (d *Durable) Counts(ctx context.Context, queue string) (domain.JobCounts, error) {
	if _, err := d.worker(queue); err != nil {
		return domain.JobCounts{}, err
	}
	return d.exec.store.Counts(ctx, queue)
}

func (d *Durable) Ping(ctx context.Context) error {
	return d.exec.store.Ping(ctx)
}

// Start requeues jobs left ACTIVE by a previous process and launches every
// registered pool. Queues registered later start immediately.
func (d *Durable) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runCtx = ctx
	for _, w := range d.workers {
		d.startWorker(ctx, w)
	}
}

// startWorker launches w. Caller holds mu.
func (d *Durable) startWorker(ctx context.Context, w *Worker) {
	if n, err := d.exec.store.Requeue(ctx, w.def.Name); err != nil {
		w.logger.Warn("failed to requeue stalled jobs", slog.String("error", err.Error()))
	} else if n > 0 {
		w.logger.Info("requeued stalled jobs", slog.Int("count", n))
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := w.Run(ctx); err != nil {
			w.logger.Error("worker pool stopped", slog.String("error", err.Error()))
		}
		w.Wait()
	}()
}

// Wait blocks until every pool has stopped and drained.
func (d *Durable) Wait() { d.wg.Wait() }
