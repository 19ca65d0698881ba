//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

func startBroker(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").
				WithStartupTimeout(90*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctr.Terminate(ctx) }) //nolint:errcheck

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

// createTopic avoids racing the first publish against auto-creation.
func createTopic(t *testing.T, brokers []string, topic string) {
	t.Helper()
	conn, err := segkafka.DialContext(context.Background(), "tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(segkafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func uniqueTopic(base string) string {
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

// receiveOne subscribes until the first message arrives or 30s pass.
func receiveOne(t *testing.T, c Consumer, handle func(Message) error) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got := make(chan Message, 1)
	go func() {
		_ = c.Subscribe(ctx, func(_ context.Context, m Message) error {
			err := handle(m)
			select {
			case got <- m:
			default:
			}
			cancel()
			return err
		})
	}()

	select {
	case m := <-got:
		return m
	case <-ctx.Done():
		t.Fatal("timed out waiting for Kafka message")
		return Message{}
	}
}

func TestIntegration_Kafka(t *testing.T) {
	brokers := startBroker(t)
	producer := NewProducer(brokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		topic := uniqueTopic("roundtrip")
		createTopic(t, brokers, topic)
		payload := []byte(`{"queue":"etl","job_type":"etl.inventory"}`)
		require.NoError(t, producer.Publish(ctx, topic, "key-1", payload))

		c := NewConsumer(ConsumerConfig{Brokers: brokers, Topic: topic, GroupID: "g-roundtrip"}, discard())
		t.Cleanup(func() { c.Close() }) //nolint:errcheck

		m := receiveOne(t, c, func(Message) error { return nil })
		assert.Equal(t, payload, m.Value)
		assert.Equal(t, []byte("key-1"), m.Key)
	})

	t.Run("failed handler leaves offset uncommitted", func(t *testing.T) {
		topic := uniqueTopic("no-commit")
		group := uniqueTopic("g-no-commit")
		createTopic(t, brokers, topic)
		payload := []byte(`{"test":"redelivery"}`)
		require.NoError(t, producer.Publish(ctx, topic, "key-1", payload))

		first := NewConsumer(ConsumerConfig{Brokers: brokers, Topic: topic, GroupID: group}, discard())
		receiveOne(t, first, func(Message) error { return errors.New("do not commit") })
		time.Sleep(300 * time.Millisecond)
		first.Close() //nolint:errcheck

		second := NewConsumer(ConsumerConfig{Brokers: brokers, Topic: topic, GroupID: group}, discard())
		t.Cleanup(func() { second.Close() }) //nolint:errcheck
		m := receiveOne(t, second, func(Message) error { return nil })
		assert.Equal(t, payload, m.Value)
	})

	t.Run("event sink publishes lifecycle events", func(t *testing.T) {
		topic := uniqueTopic("events")
		createTopic(t, brokers, topic)

		sinkCtx, stop := context.WithCancel(ctx)
		sink := NewEventSink(producer, topic, 8, discard())
		done := make(chan struct{})
		go func() {
			defer close(done)
			sink.Run(sinkCtx)
		}()
		sink.Listen(domain.Event{Type: domain.EventCompleted, Queue: domain.QueueETL, JobID: "j-1", At: time.Now().UTC()})
		t.Cleanup(func() {
			stop()
			<-done
		})

		c := NewConsumer(ConsumerConfig{Brokers: brokers, Topic: topic, StartOffset: FirstOffset}, discard())
		t.Cleanup(func() { c.Close() }) //nolint:errcheck
		m := receiveOne(t, c, func(Message) error { return nil })

		var e domain.Event
		require.NoError(t, json.Unmarshal(m.Value, &e))
		assert.Equal(t, "j-1", e.JobID)
		assert.Equal(t, domain.EventCompleted, e.Type)
		assert.Zero(t, sink.Dropped())
	})
}
