package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/handlers"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
)

type received struct {
	method string
	header http.Header
	body   []byte
}

func recorder(t *testing.T, status int) (*httptest.Server, <-chan received) {
	t.Helper()
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{method: r.Method, header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func webhookJob(t *testing.T, p map[string]any) string {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return string(data)
}

func TestWebhookHandler_JobType(t *testing.T) {
	assert.Equal(t, "notify.webhook", handlers.NewWebhookHandler(nil).JobType())
}

func TestWebhookHandler_Handle_MissingURL(t *testing.T) {
	h := handlers.NewWebhookHandler(nil)

	_, err := h.Handle(context.Background(), newJob("notify.webhook", `{"method":"POST"}`), noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestWebhookHandler_Handle_PostsBody(t *testing.T) {
	srv, got := recorder(t, http.StatusAccepted)
	h := handlers.NewWebhookHandler(nil)

	out, err := h.Handle(context.Background(), newJob("notify.webhook", webhookJob(t, map[string]any{
		"url":     srv.URL,
		"headers": map[string]string{"X-Audit": "AUD-7"},
		"body":    map[string]string{"event": "audit.done"},
	})), noProgress)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status_code":202}`, string(out))

	r := <-got
	assert.Equal(t, http.MethodPost, r.method)
	assert.Equal(t, "AUD-7", r.header.Get("X-Audit"))
	assert.Equal(t, "application/json", r.header.Get("Content-Type"))
	assert.JSONEq(t, `{"event":"audit.done"}`, string(r.body))
}

func TestWebhookHandler_Handle_ResultStatistics(t *testing.T) {
	results := cache.NewResults(cache.NewMemory(), time.Hour)
	require.NoError(t, results.Set(context.Background(), "etl-1", &inventory.JobResult{
		JobID:      "etl-1",
		Source:     "audit.csv",
		Statistics: inventory.Statistics{Total: 2, Valid: 2, AvgScore: 90, SuccessRate: 100},
	}, 0))
	srv, got := recorder(t, http.StatusOK)
	h := handlers.NewWebhookHandler(results)

	_, err := h.Handle(context.Background(), newJob("notify.webhook", webhookJob(t, map[string]any{
		"url":           srv.URL,
		"result_job_id": "etl-1",
	})), noProgress)
	require.NoError(t, err)

	var body struct {
		JobID      string               `json:"job_id"`
		Available  bool                 `json:"available"`
		Source     string               `json:"source"`
		Statistics inventory.Statistics `json:"statistics"`
	}
	require.NoError(t, json.Unmarshal((<-got).body, &body))
	assert.Equal(t, "etl-1", body.JobID)
	assert.True(t, body.Available)
	assert.Equal(t, "audit.csv", body.Source)
	assert.Equal(t, 2, body.Statistics.Valid)
}

func TestWebhookHandler_Handle_ErrorStatus(t *testing.T) {
	srv, _ := recorder(t, http.StatusServiceUnavailable)
	h := handlers.NewWebhookHandler(nil)

	_, err := h.Handle(context.Background(), newJob("notify.webhook", webhookJob(t, map[string]any{
		"url":    srv.URL,
		"method": http.MethodPut,
	})), noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
