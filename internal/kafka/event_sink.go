package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/retry"
)

// EventSink forwards queue lifecycle events to a topic. Listen never blocks
// the worker: events queue in a buffer that Run drains, and are dropped when
// the buffer is full.
type EventSink struct {
	producer Producer
	topic    string
	events   chan domain.Event
	logger   *slog.Logger
	retry    retry.Config
	dropped  atomic.Int64
}

// NewEventSink buffers up to size events.
func NewEventSink(p Producer, topic string, size int, logger *slog.Logger) *EventSink {
	if size <= 0 {
		size = 1024
	}
	return &EventSink{
		producer: p,
		topic:    topic,
		events:   make(chan domain.Event, size),
		logger:   logger.With(slog.String("topic", topic)),
		retry: retry.Config{
			MaxAttempts: 3,
			Policy:      retry.Policy{Kind: retry.Exponential, Base: 100 * time.Millisecond},
		},
	}
}

// Listen is a queue.Listener.
func (s *EventSink) Listen(e domain.Event) {
	select {
	case s.events <- e:
	default:
		if s.dropped.Add(1)%100 == 1 {
			s.logger.Warn("event buffer full, dropping lifecycle events",
				slog.Int64("dropped_total", s.dropped.Load()),
			)
		}
	}
}

// Dropped is the number of events lost to a full buffer.
func (s *EventSink) Dropped() int64 { return s.dropped.Load() }

// Run publishes buffered events until ctx is cancelled, then flushes what
// is left with a short grace period.
func (s *EventSink) Run(ctx context.Context) {
	for {
		select {
		case e := <-s.events:
			s.publish(ctx, e)
		case <-ctx.Done():
			s.flush()
			return
		}
	}
}

func (s *EventSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-s.events:
			s.publish(ctx, e)
		default:
			return
		}
	}
}

func (s *EventSink) publish(ctx context.Context, e domain.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("failed to marshal event", slog.String("error", err.Error()))
		return
	}
	err = retry.Do(ctx, s.retry, func() error {
		return s.producer.Publish(ctx, s.topic, e.JobID, data)
	})
	if err != nil {
		s.logger.Warn("failed to publish lifecycle event",
			slog.String("job_id", e.JobID),
			slog.String("event", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}
