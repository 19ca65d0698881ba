// Package postgres keeps the append-only history of jobs and their
// execution attempts.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// JobRepository abstracts all database access for job history.
type JobRepository interface {
	SaveJob(ctx context.Context, job *domain.Job) error
	RecordExecution(ctx context.Context, exec *domain.JobExecution) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ListByQueue(ctx context.Context, queue string, status domain.Status, limit int) ([]*domain.Job, error)
	Executions(ctx context.Context, jobID string) ([]*domain.JobExecution, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps a pgxpool with the JobRepository interface.
func NewRepository(pool *pgxpool.Pool) JobRepository {
	return &repository{pool: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent, so running it twice is harmless. It returns the applied names.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrations.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return nil, fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return names, nil
}

// SaveJob inserts the job or overwrites its mutable columns.
func (r *repository) SaveJob(ctx context.Context, job *domain.Job) error {
	var returnValue []byte
	if len(job.ReturnValue) > 0 {
		returnValue = job.ReturnValue
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs
			(id, queue, type, payload, status, priority, attempts_made, max_attempts,
			 progress, return_value, failure_reason, created_at, updated_at, finished_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status         = EXCLUDED.status,
			attempts_made  = EXCLUDED.attempts_made,
			progress       = EXCLUDED.progress,
			return_value   = EXCLUDED.return_value,
			failure_reason = EXCLUDED.failure_reason,
			updated_at     = EXCLUDED.updated_at,
			finished_at    = EXCLUDED.finished_at
	`,
		job.ID, job.Queue, job.Type, []byte(job.Payload), string(job.Status),
		job.Priority, job.AttemptsMade, job.MaxAttempts,
		job.Progress, returnValue, job.FailureReason,
		job.CreatedAt, job.UpdatedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *repository) RecordExecution(ctx context.Context, exec *domain.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_executions
			(id, job_id, queue, worker_id, attempt, status, duration_ms, error, executed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		exec.ID, exec.JobID, exec.Queue, exec.WorkerID, exec.Attempt,
		string(exec.Status), exec.DurationMs, exec.Error, exec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("record execution for job %s: %w", exec.JobID, err)
	}
	return nil
}

const jobColumns = `id, queue, type, payload, status, priority, attempts_made, max_attempts,
		       progress, return_value, failure_reason, created_at, updated_at, finished_at`

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.JobNotFoundError{JobID: id}
	}
	return job, err
}

// ListByQueue returns the newest jobs of queue. An empty status lists all.
func (r *repository) ListByQueue(ctx context.Context, queue string, status domain.Status, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE queue = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, queue, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs of queue %s: %w", queue, err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *repository) Executions(ctx context.Context, jobID string) ([]*domain.JobExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, queue, worker_id, attempt, status, duration_ms, error, executed_at
		FROM job_executions
		WHERE job_id = $1
		ORDER BY attempt
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list executions of job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []*domain.JobExecution
	for rows.Next() {
		var e domain.JobExecution
		var status string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Queue, &e.WorkerID, &e.Attempt,
			&status, &e.DurationMs, &e.Error, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Status = domain.Status(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// scanJob reads a job row from any pgx row type. pgx.ErrNoRows is returned
// unwrapped.
func scanJob(row interface {
	Scan(...any) error
}) (*domain.Job, error) {
	var job domain.Job
	var status string
	var payload, returnValue []byte
	err := row.Scan(
		&job.ID, &job.Queue, &job.Type, &payload, &status,
		&job.Priority, &job.AttemptsMade, &job.MaxAttempts,
		&job.Progress, &returnValue, &job.FailureReason,
		&job.CreatedAt, &job.UpdatedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.Status(status)
	job.Payload = payload
	job.ReturnValue = returnValue
	return &job, nil
}
