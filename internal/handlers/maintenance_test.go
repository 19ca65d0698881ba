package handlers_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/handlers"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
)

// fakeCleaner records Clean calls and removes a fixed count per queue.
type fakeCleaner struct {
	mu      sync.Mutex
	queues  []domain.QueueDefinition
	removed map[string]int
	failOn  string
	calls   map[string]domain.CleanOptions
}

func (f *fakeCleaner) Queues() []domain.QueueDefinition { return f.queues }

func (f *fakeCleaner) Clean(_ context.Context, queue string, opts domain.CleanOptions) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]domain.CleanOptions)
	}
	f.calls[queue] = opts
	if queue == f.failOn {
		return 0, &domain.ConfigurationError{Queue: queue, Reason: "queue is not registered"}
	}
	return f.removed[queue], nil
}

func TestCleanHandler_AllQueues(t *testing.T) {
	cleaner := &fakeCleaner{
		queues:  domain.DefaultQueues(),
		removed: map[string]int{domain.QueueETL: 4, domain.QueueNotifications: 9},
	}
	h := handlers.NewCleanHandler(cleaner, discardLogger())
	assert.Equal(t, "maintenance.clean", h.JobType())
	var progress progressLog

	out, err := h.Handle(context.Background(),
		newJob("maintenance.clean", `{"older_than_ms":86400000,"status":"FAILED","limit":100}`), progress.report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"removed":{"etl":4,"ia":0,"notifications":9,"maintenance":0}}`, string(out))

	require.Len(t, cleaner.calls, 4)
	opts := cleaner.calls[domain.QueueETL]
	assert.Equal(t, 24*time.Hour, opts.OlderThan)
	assert.Equal(t, domain.StatusFailed, opts.Status)
	assert.Equal(t, 100, opts.Limit)
	assert.Equal(t, []int{25, 50, 75, 100}, progress.values())
}

func TestCleanHandler_NamedQueuesAndErrors(t *testing.T) {
	cleaner := &fakeCleaner{removed: map[string]int{"etl": 2}, failOn: "unknown"}
	h := handlers.NewCleanHandler(cleaner, discardLogger())

	_, err := h.Handle(context.Background(),
		newJob("maintenance.clean", `{"queues":["etl","unknown"]}`), noProgress)
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cleaner.calls, "etl", "remaining queues are still cleaned")
}

func TestCleanHandler_NegativeAge(t *testing.T) {
	h := handlers.NewCleanHandler(&fakeCleaner{}, discardLogger())

	_, err := h.Handle(context.Background(), newJob("maintenance.clean", `{"older_than_ms":-1}`), noProgress)
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}

func TestPurgeResultsHandler(t *testing.T) {
	ctx := context.Background()
	results := cache.NewResults(cache.NewMemory(), time.Hour)
	for _, id := range []string{"a", "b", "keep"} {
		require.NoError(t, results.Set(ctx, id, &inventory.JobResult{JobID: id}, 0))
	}
	h := handlers.NewPurgeResultsHandler(results)
	assert.Equal(t, "maintenance.purge-results", h.JobType())

	out, err := h.Handle(ctx, newJob("maintenance.purge-results", `{"job_ids":["a","b","missing"]}`), noProgress)
	require.NoError(t, err)
	assert.JSONEq(t, `{"evicted":3}`, string(out))

	for _, id := range []string{"a", "b"} {
		res, err := results.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	res, err := results.Get(ctx, "keep")
	require.NoError(t, err)
	assert.NotNil(t, res)

	_, err = h.Handle(ctx, newJob("maintenance.purge-results", `{}`), noProgress)
	require.Error(t, err)
}
