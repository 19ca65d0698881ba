package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/internal/queue"
	"github.com/ramiqadoumi/go-audit-jobs/services/api-gateway/handler"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeRepo struct {
	jobs  map[string]*domain.Job
	execs map[string][]*domain.JobExecution
}

func (r *fakeRepo) SaveJob(context.Context, *domain.Job) error                   { return nil }
func (r *fakeRepo) RecordExecution(context.Context, *domain.JobExecution) error { return nil }
func (r *fakeRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	if j, ok := r.jobs[id]; ok {
		return j, nil
	}
	return nil, &domain.JobNotFoundError{JobID: id}
}
func (r *fakeRepo) ListByQueue(_ context.Context, queue string, status domain.Status, _ int) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range r.jobs {
		if j.Queue == queue && (status == "" || j.Status == status) {
			out = append(out, j)
		}
	}
	return out, nil
}
func (r *fakeRepo) Executions(_ context.Context, id string) ([]*domain.JobExecution, error) {
	return r.execs[id], nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

type fixture struct {
	srv     *httptest.Server
	manager *queue.Manager
	results *cache.Results
}

func newFixture(t *testing.T, repo *fakeRepo) *fixture {
	t.Helper()
	results := cache.NewResults(cache.NewMemory(), time.Hour)
	noop := queue.ProcessorFunc(func(context.Context, *domain.Job, func(int)) (json.RawMessage, error) {
		return nil, nil
	})
	m := queue.NewManager(queue.NewDurable(queue.NewMemoryStore(), noop), queue.WithResults(results))
	for _, def := range domain.DefaultQueues() {
		require.NoError(t, m.Register(def))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var h *handler.REST
	if repo != nil {
		h = handler.NewREST(m, repo, logger)
	} else {
		h = handler.NewREST(m, nil, logger)
	}
	r := chi.NewRouter()
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, manager: m, results: results}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestREST_SubmitAndGet(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/v1/queues/etl/jobs",
		`{"job_type":"etl.inventory","payload":{"file":"a.xlsx"},"options":{"priority":1}}`)
	require.Equal(t, http.StatusAccepted, code)
	id, _ := body["job_id"].(string)
	require.NotEmpty(t, id)

	code, body = f.do(t, http.MethodGet, "/api/v1/queues/etl/jobs/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "WAITING", body["status"])
	assert.Equal(t, "etl.inventory", body["type"])
	assert.EqualValues(t, 3, body["max_attempts"])
}

func TestREST_SubmitValidation(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/v1/queues/etl/jobs", `not-json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/queues/etl/jobs", `{"payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/v1/queues/reports/jobs", `{"job_type":"x"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "reports")
}

func TestREST_GetJobFallsBackToHistory(t *testing.T) {
	finished := time.Now().UTC()
	repo := &fakeRepo{jobs: map[string]*domain.Job{
		"old": {ID: "old", Queue: "etl", Type: "etl.inventory", Status: domain.StatusCompleted, FinishedAt: &finished},
	}}
	f := newFixture(t, repo)

	code, body := f.do(t, http.MethodGet, "/api/v1/queues/etl/jobs/old", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "COMPLETED", body["status"])

	code, _ = f.do(t, http.MethodGet, "/api/v1/queues/ia/jobs/old", "")
	assert.Equal(t, http.StatusNotFound, code, "history hit in another queue is not served")

	code, _ = f.do(t, http.MethodGet, "/api/v1/queues/etl/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestREST_PauseResumeCounts(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodPost, "/api/v1/queues/notifications/pause", "")
	require.Equal(t, http.StatusOK, code)
	f.do(t, http.MethodPost, "/api/v1/queues/notifications/jobs", `{"job_type":"notify.email","payload":{}}`)

	code, body := f.do(t, http.MethodGet, "/api/v1/queues/notifications/counts", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["paused"])
	assert.EqualValues(t, 1, body["waiting"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/queues/notifications/resume", "")
	require.Equal(t, http.StatusOK, code)
	_, body = f.do(t, http.MethodGet, "/api/v1/queues/notifications/counts", "")
	assert.Equal(t, false, body["paused"])
}

func TestREST_Clean(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodPost, "/api/v1/queues/etl/clean", `{"older_than_ms":1000,"status":"failed"}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["removed"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/queues/etl/clean", `{"status":"ACTIVE"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/queues/etl/clean", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestREST_Results(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/api/v1/results/etl-1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "pending", body["status"])

	require.NoError(t, f.results.Set(context.Background(), "etl-1", &inventory.JobResult{
		JobID:      "etl-1",
		Statistics: inventory.Statistics{Total: 3, Valid: 2},
	}, 0))
	code, body = f.do(t, http.MethodGet, "/api/v1/results/etl-1", "")
	require.Equal(t, http.StatusOK, code)
	stats, _ := body["statistics"].(map[string]any)
	assert.EqualValues(t, 2, stats["valid"])
}

func TestREST_HistoryDisabled(t *testing.T) {
	f := newFixture(t, nil)

	code, _ := f.do(t, http.MethodGet, "/api/v1/queues/etl/history", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestREST_Executions(t *testing.T) {
	repo := &fakeRepo{execs: map[string][]*domain.JobExecution{
		"j1": {{ID: "e1", JobID: "j1", Attempt: 1, Status: domain.StatusFailed, Error: "boom"}},
	}}
	f := newFixture(t, repo)

	resp, err := http.Get(f.srv.URL + "/api/v1/jobs/j1/executions")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execs []domain.JobExecution
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execs))
	require.Len(t, execs, 1)
	assert.Equal(t, "boom", execs[0].Error)
}

func TestREST_Health(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
}
