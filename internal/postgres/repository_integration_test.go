//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// newRepo starts Postgres, applies the embedded migrations and returns a
// repository on it.
func newRepo(t *testing.T) JobRepository {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("auditjobs"),
		tcPostgres.WithUsername("auditjobs"),
		tcPostgres.WithPassword("auditjobs"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { ctr.Terminate(ctx) }) //nolint:errcheck

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	_, err = Migrate(ctx, pool)
	require.NoError(t, err, "migrations are idempotent")

	return NewRepository(pool)
}

func makeJob(queue string) *domain.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Job{
		ID:          uuid.New().String(),
		Queue:       queue,
		Type:        "etl.inventory",
		Payload:     json.RawMessage(`{"file":"audit.xlsx"}`),
		Status:      domain.StatusActive,
		Priority:    1,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestIntegration_JobHistory(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	job := makeJob("etl")
	job.AttemptsMade = 1
	require.NoError(t, repo.SaveJob(ctx, job))
	require.NoError(t, repo.RecordExecution(ctx, &domain.JobExecution{
		JobID: job.ID, Queue: "etl", WorkerID: "w-1", Attempt: 1,
		Status: domain.StatusFailed, DurationMs: 12, Error: "boom",
	}))

	finished := time.Now().UTC()
	job.AttemptsMade = 2
	job.Status = domain.StatusCompleted
	job.Progress = 100
	job.ReturnValue = json.RawMessage(`{"total":3}`)
	job.FinishedAt = &finished
	require.NoError(t, repo.SaveJob(ctx, job))
	require.NoError(t, repo.RecordExecution(ctx, &domain.JobExecution{
		JobID: job.ID, Queue: "etl", WorkerID: "w-1", Attempt: 2,
		Status: domain.StatusCompleted, DurationMs: 30,
	}))

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.AttemptsMade)
	assert.JSONEq(t, `{"total":3}`, string(got.ReturnValue))
	assert.JSONEq(t, `{"file":"audit.xlsx"}`, string(got.Payload))
	assert.NotNil(t, got.FinishedAt)

	execs, err := repo.Executions(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "boom", execs[0].Error)
	assert.Equal(t, domain.StatusCompleted, execs[1].Status)
}

func TestIntegration_GetByIDNotFound(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	var notFound *domain.JobNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestIntegration_ListByQueue(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for range 3 {
		require.NoError(t, repo.SaveJob(ctx, makeJob("notifications")))
	}
	failed := makeJob("notifications")
	failed.Status = domain.StatusFailed
	require.NoError(t, repo.SaveJob(ctx, failed))
	require.NoError(t, repo.SaveJob(ctx, makeJob("ia")))

	all, err := repo.ListByQueue(ctx, "notifications", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	onlyFailed, err := repo.ListByQueue(ctx, "notifications", domain.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, failed.ID, onlyFailed[0].ID)
}
