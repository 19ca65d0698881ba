package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/retry"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
)

// executor runs single attempts and files their outcome in the store.
type executor struct {
	settings
	store     Store
	processor Processor
	// degraded marks events from the inline fallback.
	degraded bool
}

type outcome struct {
	value json.RawMessage
	err   error
}

// execute runs one attempt of job. When allowRetry is false any failure is
// terminal. It returns once the processor goroutine has exited.
func (e *executor) execute(ctx context.Context, def domain.QueueDefinition, job *domain.Job, allowRetry bool) {
	// Ledger writes must survive shutdown of the calling loop.
	storeCtx := context.WithoutCancel(ctx)

	_, span := otel.Tracer("queue").Start(storeCtx, "queue.process_job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.String("queue", job.Queue),
		attribute.String("worker.id", e.workerID),
	)

	log := e.logger.With(
		slog.String("job_id", job.ID),
		slog.String("queue", job.Queue),
		slog.String("job_type", job.Type),
		slog.String("worker_id", e.workerID),
	)

	now := e.now()
	job.Status = domain.StatusActive
	job.AttemptsMade++
	job.ProcessedAt = &now
	job.UpdatedAt = now
	e.save(storeCtx, job, log)
	e.emit(domain.EventActive, job, "")
	span.SetAttributes(attribute.Int("job.attempt", job.AttemptsMade))

	telemetry.JobsActive.WithLabelValues(job.Queue).Inc()
	defer telemetry.JobsActive.WithLabelValues(job.Queue).Dec()

	start := time.Now()
	res, drained := e.run(trace.ContextWithSpan(context.Background(), span), storeCtx, job, log)
	duration := time.Since(start)
	telemetry.JobDurationSeconds.WithLabelValues(job.Queue).Observe(duration.Seconds())

	if res.err == nil {
		log.Info("job completed",
			slog.Int64("duration_ms", duration.Milliseconds()),
			slog.Int("attempt", job.AttemptsMade),
		)
		e.complete(storeCtx, def, job, res.value, duration, log)
	} else {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, "attempt failed")
		e.fail(storeCtx, def, job, res.err, duration, allowRetry, log)
	}

	// Slot stays held until the processor returns, even after a timeout.
	<-drained
}

// run invokes the processor under the job timeout, converting panics to
// ProcessorRuntimeError. drained closes when the processor goroutine exits.
func (e *executor) run(parent, storeCtx context.Context, job *domain.Job, log *slog.Logger) (outcome, <-chan struct{}) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if t := job.Timeout(); t > 0 {
		ctx, cancel = context.WithTimeout(parent, t)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	var (
		mu     sync.Mutex
		closed bool
	)
	progress := func(pct int) {
		pct = max(0, min(100, pct))
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		job.Progress = pct
		job.UpdatedAt = e.now()
		e.save(storeCtx, job, log)
		e.emit(domain.EventProgress, job, "")
	}

	done := make(chan outcome, 1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &domain.ProcessorRuntimeError{JobID: job.ID, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		v, err := e.processor.Process(ctx, job.Clone(), progress)
		done <- outcome{value: v, err: err}
	}()

	timeout := &domain.JobTimeoutError{JobID: job.ID, Timeout: job.Timeout()}
	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res = outcome{err: timeout}
		}
	}
	if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.err = timeout
	}

	mu.Lock()
	closed = true
	mu.Unlock()
	return res, drained
}

func (e *executor) complete(ctx context.Context, def domain.QueueDefinition, job *domain.Job, value json.RawMessage, d time.Duration, log *slog.Logger) {
	now := e.now()
	job.Status = domain.StatusCompleted
	job.Progress = 100
	job.ReturnValue = value
	job.FailureReason = ""
	job.FinishedAt = &now
	job.UpdatedAt = now

	e.save(ctx, job, log)
	e.trim(ctx, job.Queue, domain.StatusCompleted, def.Retention.KeepCompleted, log)
	e.emit(domain.EventCompleted, job, "")
	e.record(ctx, job, d, "", log)
	telemetry.JobsProcessed.WithLabelValues(job.Queue, "completed").Inc()
}

func (e *executor) fail(ctx context.Context, def domain.QueueDefinition, job *domain.Job, err error, d time.Duration, allowRetry bool, log *slog.Logger) {
	reason := failureReason(err)
	now := e.now()
	job.FailureReason = reason
	job.UpdatedAt = now

	terminal := !allowRetry || !domain.IsRetryable(err) || !job.CanRetry()
	if !terminal {
		delay := backoffPolicy(job.Backoff).Delay(job.AttemptsMade)
		readyAt := now.Add(delay)
		job.Status = domain.StatusDelayed
		job.ReadyAt = &readyAt

		log.Warn("attempt failed, retrying",
			slog.Int("attempt", job.AttemptsMade),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", reason),
		)
		e.save(ctx, job, log)
		e.emit(domain.EventFailed, job, reason)
		e.record(ctx, job, d, reason, log)
		telemetry.JobRetries.WithLabelValues(job.Queue).Inc()
		telemetry.JobsProcessed.WithLabelValues(job.Queue, "retried").Inc()
		return
	}

	job.Status = domain.StatusFailed
	job.FinishedAt = &now
	log.Error("job failed",
		slog.Int("attempts", job.AttemptsMade),
		slog.Bool("retryable", domain.IsRetryable(err)),
		slog.String("error", reason),
	)
	e.save(ctx, job, log)
	e.trim(ctx, job.Queue, domain.StatusFailed, def.Retention.KeepFailed, log)
	e.emit(domain.EventFailed, job, reason)
	e.record(ctx, job, d, reason, log)
	e.deadLetter(ctx, job, log)
	telemetry.JobsProcessed.WithLabelValues(job.Queue, "failed").Inc()
}

// failureReason strips the runtime wrapper so callers see the cause.
func failureReason(err error) string {
	var rt *domain.ProcessorRuntimeError
	if errors.As(err, &rt) && rt.Err != nil {
		return rt.Err.Error()
	}
	return err.Error()
}

func backoffPolicy(b domain.BackoffPolicy) retry.Policy {
	kind := retry.Fixed
	if b.Type == domain.BackoffExponential {
		kind = retry.Exponential
	}
	return retry.Policy{Kind: kind, Base: b.Delay()}
}

func (e *executor) save(ctx context.Context, job *domain.Job, log *slog.Logger) {
	if err := e.store.Save(ctx, job); err != nil {
		log.Error("failed to save job state", slog.String("status", string(job.Status)), slog.String("error", err.Error()))
	}
}

// trim applies retention. keep <= 0 keeps everything.
func (e *executor) trim(ctx context.Context, queue string, status domain.Status, keep int, log *slog.Logger) {
	if keep <= 0 {
		return
	}
	if _, err := e.store.Trim(ctx, queue, status, keep); err != nil {
		log.Warn("failed to trim retained jobs", slog.String("status", string(status)), slog.String("error", err.Error()))
	}
}

func (e *executor) emit(t domain.EventType, job *domain.Job, reason string) {
	ev := domain.NewEvent(t, job, e.now())
	ev.Error = reason
	ev.Terminal = t == domain.EventFailed && job.Status == domain.StatusFailed
	ev.Degraded = e.degraded
	e.events.Publish(ev)
}

func (e *executor) record(ctx context.Context, job *domain.Job, d time.Duration, reason string, log *slog.Logger) {
	if e.history == nil {
		return
	}
	status := job.Status
	if status == domain.StatusDelayed {
		status = domain.StatusFailed
	}
	exec := &domain.JobExecution{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Queue:      job.Queue,
		WorkerID:   e.workerID,
		Attempt:    job.AttemptsMade,
		Status:     status,
		DurationMs: d.Milliseconds(),
		Error:      reason,
		ExecutedAt: e.now(),
	}
	if err := e.history.SaveJob(ctx, job); err != nil {
		log.Error("failed to save job history", slog.String("error", err.Error()))
	}
	if err := e.history.RecordExecution(ctx, exec); err != nil {
		log.Error("failed to record execution", slog.String("error", err.Error()))
	}
}

func (e *executor) deadLetter(ctx context.Context, job *domain.Job, log *slog.Logger) {
	if e.dlq == nil || e.dlqTopic == "" {
		return
	}
	data, err := json.Marshal(job)
	if err != nil {
		log.Error("failed to marshal job for DLQ", slog.String("error", err.Error()))
		return
	}
	if err := e.dlq.Publish(ctx, e.dlqTopic, job.ID, data); err != nil {
		log.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return
	}
	telemetry.JobsDeadLettered.WithLabelValues(job.Queue).Inc()
}
