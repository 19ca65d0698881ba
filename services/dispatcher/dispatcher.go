// Package dispatcher turns submission messages from Kafka into queued jobs.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-audit-jobs/internal/redis"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
)

// Submitter is the part of the queue manager the ingress needs.
type Submitter interface {
	Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts domain.JobOptions) (*domain.Job, error)
	Queues() []domain.QueueDefinition
}

// SubmitMessage is the body of a message on the submission topic.
type SubmitMessage struct {
	Queue   string            `json:"queue"`
	JobType string            `json:"job_type"`
	Payload json.RawMessage   `json:"payload"`
	Options domain.JobOptions `json:"options"`
}

// DeadLetter wraps a rejected submission with the reason it was rejected.
type DeadLetter struct {
	Reason  string `json:"reason"`
	Topic   string `json:"topic"`
	Offset  int64  `json:"offset"`
	Message string `json:"message"`
}

// Dispatcher consumes the submission topic and submits each message to its
// queue. Malformed, rejected and rate-limited messages go to the DLQ.
type Dispatcher struct {
	consumer  kafka.Consumer
	producer  kafka.Producer
	dlqTopic  string
	submitter Submitter
	limiter   redisstore.RateLimiter // nil = disabled
	logger    *slog.Logger
}

func NewDispatcher(
	consumer kafka.Consumer,
	producer kafka.Producer,
	dlqTopic string,
	submitter Submitter,
	limiter redisstore.RateLimiter,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		consumer:  consumer,
		producer:  producer,
		dlqTopic:  dlqTopic,
		submitter: submitter,
		limiter:   limiter,
		logger:    logger,
	}
}

// Run starts consuming. Blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.consumer.Subscribe(ctx, d.route)
}

func (d *Dispatcher) rateLimit(queue string) int {
	for _, def := range d.submitter.Queues() {
		if def.Name == queue {
			return def.RateLimit
		}
	}
	return 0
}

func (d *Dispatcher) route(ctx context.Context, msg kafka.Message) error {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.route")
	defer span.End()

	var sub SubmitMessage
	if err := json.Unmarshal(msg.Value, &sub); err != nil {
		d.logger.Error("malformed message, sending to DLQ", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed message")
		return d.toDLQ(ctx, msg, "malformed", "malformed message: "+err.Error())
	}
	sub.Queue = strings.TrimSpace(sub.Queue)

	span.SetAttributes(
		attribute.String("queue", sub.Queue),
		attribute.String("job.type", sub.JobType),
	)
	log := d.logger.With(
		slog.String("queue", sub.Queue),
		slog.String("job_type", sub.JobType),
	)

	if sub.Queue == "" || sub.JobType == "" {
		log.Error("queue or job type missing, sending to DLQ")
		span.SetStatus(codes.Error, "missing queue or job type")
		return d.toDLQ(ctx, msg, "malformed", "queue and job_type are required")
	}

	// Rate limiting: reject early if over the limit for this queue.
	if d.limiter != nil {
		limit := d.rateLimit(sub.Queue)
		allowed, err := d.limiter.Allow(ctx, "queue:"+sub.Queue, limit)
		if err != nil {
			log.Error("rate limiter error", slog.String("error", err.Error()))
			// Allow on limiter failure to avoid dropping jobs due to Redis issues.
		} else if !allowed {
			limitErr := &domain.RateLimitExceededError{Queue: sub.Queue, Limit: limit}
			log.Warn("rate limit exceeded, sending to DLQ")
			span.SetStatus(codes.Error, "rate limit exceeded")
			telemetry.RateLimited.WithLabelValues(sub.Queue).Inc()
			return d.toDLQ(ctx, msg, "rate_limited", limitErr.Error())
		}
	}

	job, err := d.submitter.Submit(ctx, sub.Queue, sub.JobType, sub.Payload, sub.Options)
	if err != nil {
		span.RecordError(err)
		var cfgErr *domain.ConfigurationError
		var typeErr *domain.InvalidJobTypeError
		if errors.As(err, &cfgErr) || errors.As(err, &typeErr) {
			log.Error("submission rejected, sending to DLQ", slog.String("error", err.Error()))
			span.SetStatus(codes.Error, "rejected")
			return d.toDLQ(ctx, msg, "rejected", err.Error())
		}
		// Transient failure: return error so offset is NOT committed.
		span.SetStatus(codes.Error, "submit failed")
		telemetry.IngressSubmissions.WithLabelValues("error").Inc()
		return fmt.Errorf("submit to %s: %w", sub.Queue, err)
	}

	telemetry.IngressSubmissions.WithLabelValues("submitted").Inc()
	log.Info("job submitted from ingress", slog.String("job_id", job.ID))
	return nil
}

// toDLQ publishes the rejected message with its reason to the dead-letter
// topic.
func (d *Dispatcher) toDLQ(ctx context.Context, msg kafka.Message, outcome, reason string) error {
	telemetry.IngressSubmissions.WithLabelValues(outcome).Inc()
	if d.dlqTopic == "" {
		return nil
	}
	data, err := json.Marshal(DeadLetter{
		Reason:  reason,
		Topic:   msg.Topic,
		Offset:  msg.Offset,
		Message: string(msg.Value),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := d.producer.Publish(ctx, d.dlqTopic, string(msg.Key), data); err != nil {
		d.logger.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return err
	}
	return nil
}
