package queue

import (
	"log/slog"
	"time"
)

type settings struct {
	events   *EventBus
	history  History
	dlq      Publisher
	dlqTopic string
	workerID string
	poll     time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func defaultSettings() settings {
	return settings{
		workerID: "worker",
		poll:     500 * time.Millisecond,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Option configures a Durable or Inline backend.
type Option func(*settings)

func WithEvents(b *EventBus) Option           { return func(s *settings) { s.events = b } }
func WithHistory(h History) Option            { return func(s *settings) { s.history = h } }
func WithWorkerID(id string) Option           { return func(s *settings) { s.workerID = id } }
func WithPollInterval(d time.Duration) Option { return func(s *settings) { s.poll = d } }
func WithLogger(l *slog.Logger) Option        { return func(s *settings) { s.logger = l } }
func WithClock(now func() time.Time) Option   { return func(s *settings) { s.now = now } }

// WithDeadLetter publishes terminally failed jobs to topic.
func WithDeadLetter(p Publisher, topic string) Option {
	return func(s *settings) {
		s.dlq = p
		s.dlqTopic = topic
	}
}
