package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, queue, jobType string, _ json.RawMessage, _ domain.JobOptions) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, queue+"/"+jobType)
	return &domain.Job{ID: "job-1", Queue: queue, Type: jobType}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var nightly = Schedule{
	Name:    "nightly-clean",
	Cron:    "0 3 * * *",
	Queue:   domain.QueueMaintenance,
	JobType: "maintenance.clean",
	Payload: json.RawMessage(`{"older_than_ms":86400000}`),
}

func TestScheduler_OnlyLeaderFires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	subA, subB := &fakeSubmitter{}, &fakeSubmitter{}
	a := NewScheduler(subA, client, "a", discard())
	b := NewScheduler(subB, client, "b", discard())

	a.elect(ctx)
	b.elect(ctx)
	assert.True(t, a.IsLeader())
	assert.False(t, b.IsLeader())

	a.fire(ctx, nightly)
	b.fire(ctx, nightly)
	assert.Equal(t, []string{"maintenance/maintenance.clean"}, subA.jobs)
	assert.Zero(t, subB.count())

	// Renewal keeps a in charge.
	mr.FastForward(20 * time.Second)
	a.elect(ctx)
	assert.True(t, a.IsLeader())
	assert.Equal(t, 30*time.Second, mr.TTL(leaderKey))
}

func TestScheduler_FailoverAfterExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	a := NewScheduler(&fakeSubmitter{}, client, "a", discard())
	b := NewScheduler(&fakeSubmitter{}, client, "b", discard())
	a.elect(ctx)
	require.True(t, a.IsLeader())

	mr.FastForward(leaderTTL + time.Second)
	b.elect(ctx)
	assert.True(t, b.IsLeader())

	a.elect(ctx)
	assert.False(t, a.IsLeader())
}

func TestScheduler_ReleaseHandsOver(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	a := NewScheduler(&fakeSubmitter{}, client, "a", discard())
	a.elect(ctx)
	a.release()
	assert.False(t, mr.Exists(leaderKey))

	b := NewScheduler(&fakeSubmitter{}, client, "b", discard())
	b.elect(ctx)
	assert.True(t, b.IsLeader())
}

func TestScheduler_WithoutRedisAlwaysLeads(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewScheduler(sub, nil, "solo", discard())

	assert.True(t, s.IsLeader())
	s.fire(context.Background(), nightly)
	assert.Equal(t, 1, sub.count())
}

func TestScheduler_SubmitErrorIsLogged(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("queue is paused")}
	s := NewScheduler(sub, nil, "solo", discard())

	s.fire(context.Background(), nightly)
	assert.Zero(t, sub.count())
}

func TestScheduler_AddValidates(t *testing.T) {
	s := NewScheduler(&fakeSubmitter{}, nil, "solo", discard())

	require.NoError(t, s.Add(nightly))
	require.NoError(t, s.Add(Schedule{Name: "hourly", Cron: "@hourly", Queue: "maintenance", JobType: "maintenance.purge-results"}))

	err := s.Add(Schedule{Name: "bad", Cron: "every day", Queue: "maintenance", JobType: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	err = s.Add(Schedule{Name: "noqueue", Cron: "@daily", JobType: "x"})
	require.Error(t, err)
}
