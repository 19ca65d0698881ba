package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Worker is the pool of one queue. It never runs more than
// def.Concurrency jobs at once.
type Worker struct {
	def    domain.QueueDefinition
	exec   *executor
	store  Store
	poll   time.Duration
	logger *slog.Logger

	slots chan struct{}
	wake  chan struct{}
	wg    sync.WaitGroup
}

func newWorker(def domain.QueueDefinition, exec *executor) *Worker {
	return &Worker{
		def:    def,
		exec:   exec,
		store:  exec.store,
		poll:   exec.poll,
		logger: exec.logger.With(slog.String("queue", def.Name)),
		slots:  make(chan struct{}, def.Concurrency),
		wake:   make(chan struct{}, 1),
	}
}

// Notify wakes the pool to look for work without waiting for the next poll.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run pulls jobs until ctx is cancelled. In-flight jobs keep running;
// call Wait to block until they finish.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	w.logger.Info("worker pool started", slog.Int("concurrency", w.def.Concurrency))
	for {
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job := w.next(ctx)
		if job == nil {
			<-w.slots
			select {
			case <-ctx.Done():
				return nil
			case <-w.wake:
			case <-ticker.C:
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer func() {
				<-w.slots
				w.wg.Done()
				w.Notify()
			}()
			w.exec.execute(ctx, w.def, job, true)
		}()
	}
}

// Wait blocks until all in-flight jobs finish. Call after Run returns.
func (w *Worker) Wait() { w.wg.Wait() }

// next returns a job to run, or nil when paused, idle or the store fails.
func (w *Worker) next(ctx context.Context) *domain.Job {
	paused, err := w.store.IsPaused(ctx, w.def.Name)
	if err != nil {
		w.logger.Warn("pause check failed", slog.String("error", err.Error()))
		return nil
	}
	if paused {
		return nil
	}
	job, err := w.store.Pop(ctx, w.def.Name, w.exec.now())
	if err != nil {
		w.logger.Warn("dequeue failed", slog.String("error", err.Error()))
		return nil
	}
	return job
}
