// Package handler exposes the queue manager over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/internal/postgres"
)

// JobQueue is the part of the queue manager the API serves.
type JobQueue interface {
	Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts domain.JobOptions) (*domain.Job, error)
	GetJob(ctx context.Context, queue, id string) (*domain.Job, error)
	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error)
	Counts(ctx context.Context, queue string) (domain.JobCounts, error)
	GetResult(ctx context.Context, jobID string) (*inventory.JobResult, error)
	Ping(ctx context.Context) error
}

// REST handles HTTP requests for the API Gateway.
type REST struct {
	queues JobQueue
	repo   postgres.JobRepository // nil when history is disabled
	logger *slog.Logger
}

// NewREST creates a new REST handler. repo may be nil.
func NewREST(queues JobQueue, repo postgres.JobRepository, logger *slog.Logger) *REST {
	return &REST{queues: queues, repo: repo, logger: logger}
}

// Routes mounts every endpoint on r.
func (h *REST) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Post("/jobs", h.SubmitJob)
			r.Get("/jobs/{id}", h.GetJob)
			r.Get("/counts", h.Counts)
			r.Post("/pause", h.Pause)
			r.Post("/resume", h.Resume)
			r.Post("/clean", h.Clean)
			r.Get("/history", h.History)
		})
		r.Get("/jobs/{id}/executions", h.Executions)
		r.Get("/results/{id}", h.GetResult)
	})
}

// SubmitJobRequest is the JSON body for POST /api/v1/queues/{queue}/jobs.
type SubmitJobRequest struct {
	JobType string            `json:"job_type"`
	Payload json.RawMessage   `json:"payload"`
	Options domain.JobOptions `json:"options"`
}

// SubmitJobResponse is the 202 response body.
type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse is the GET /jobs/{id} response body.
type JobResponse struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Progress      int             `json:"progress"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	ReturnValue   json.RawMessage `json:"return_value,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
}

func jobResponse(j *domain.Job) JobResponse {
	resp := JobResponse{
		ID:            j.ID,
		Queue:         j.Queue,
		Type:          j.Type,
		Status:        string(j.Status),
		Progress:      j.Progress,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		ReturnValue:   j.ReturnValue,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		ProcessedAt:   j.ProcessedAt,
		FinishedAt:    j.FinishedAt,
	}
	if j.FinishedAt != nil {
		resp.DurationMs = j.FinishedAt.Sub(j.CreatedAt).Milliseconds()
	}
	return resp
}

// SubmitJob handles POST /api/v1/queues/{queue}/jobs.
func (h *REST) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("api-gateway").Start(r.Context(), "api_gateway.submit_job")
	defer span.End()

	queue := chi.URLParam(r, "queue")
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.JobType) == "" {
		writeError(w, http.StatusBadRequest, "field 'job_type' is required")
		return
	}
	if string(req.Payload) == "null" {
		req.Payload = nil
	}
	span.SetAttributes(
		attribute.String("queue", queue),
		attribute.String("job.type", req.JobType),
	)

	job, err := h.queues.Submit(ctx, queue, req.JobType, req.Payload, req.Options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		h.fail(w, err, "failed to enqueue job", slog.String("queue", queue))
		return
	}

	span.SetAttributes(attribute.String("job.id", job.ID))
	h.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.String("queue", queue),
		slog.String("job_type", req.JobType),
	)
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: job.ID})
}

// GetJob handles GET /api/v1/queues/{queue}/jobs/{id}. Jobs trimmed from
// the live store are served from history when it is enabled.
func (h *REST) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	queue, id := chi.URLParam(r, "queue"), chi.URLParam(r, "id")

	job, err := h.queues.GetJob(ctx, queue, id)
	var notFound *domain.JobNotFoundError
	if errors.As(err, &notFound) && h.repo != nil {
		if hist, herr := h.repo.GetByID(ctx, id); herr == nil && hist.Queue == queue {
			job, err = hist, nil
		}
	}
	if err != nil {
		h.fail(w, err, "failed to retrieve job", slog.String("job_id", id))
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// Counts handles GET /api/v1/queues/{queue}/counts.
func (h *REST) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queues.Counts(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		h.fail(w, err, "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *REST) Pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.queues.Pause, "paused")
}

func (h *REST) Resume(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.queues.Resume, "resumed")
}

func (h *REST) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error, state string) {
	queue := chi.URLParam(r, "queue")
	if err := fn(r.Context(), queue); err != nil {
		h.fail(w, err, "failed to change queue state", slog.String("queue", queue))
		return
	}
	h.logger.Info("queue "+state, slog.String("queue", queue))
	writeJSON(w, http.StatusOK, map[string]string{"queue": queue, "status": state})
}

// CleanRequest is the JSON body for POST /api/v1/queues/{queue}/clean.
type CleanRequest struct {
	OlderThanMs int64  `json:"older_than_ms"`
	Limit       int    `json:"limit"`
	Status      string `json:"status"`
}

// Clean handles POST /api/v1/queues/{queue}/clean.
func (h *REST) Clean(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	var req CleanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.OlderThanMs < 0 || req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "older_than_ms and limit must not be negative")
		return
	}
	status := domain.Status(strings.ToUpper(req.Status))
	if status != "" && status != domain.StatusCompleted && status != domain.StatusFailed {
		writeError(w, http.StatusBadRequest, "status must be COMPLETED or FAILED")
		return
	}

	removed, err := h.queues.Clean(r.Context(), queue, domain.CleanOptions{
		OlderThan: time.Duration(req.OlderThanMs) * time.Millisecond,
		Limit:     req.Limit,
		Status:    status,
	})
	if err != nil {
		h.fail(w, err, "failed to clean queue", slog.String("queue", queue))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// GetResult handles GET /api/v1/results/{id}. A missing result is not an
// error: the job may still be running or the result may have expired.
func (h *REST) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.queues.GetResult(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to retrieve result", slog.String("job_id", id))
		return
	}
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"job_id": id, "status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// History handles GET /api/v1/queues/{queue}/history?status=&limit=.
func (h *REST) History(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusNotImplemented, "job history is disabled")
		return
	}
	queue := chi.URLParam(r, "queue")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	status := domain.Status(strings.ToUpper(r.URL.Query().Get("status")))

	jobs, err := h.repo.ListByQueue(r.Context(), queue, status, limit)
	if err != nil {
		h.fail(w, err, "failed to list history", slog.String("queue", queue))
		return
	}
	out := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// Executions handles GET /api/v1/jobs/{id}/executions.
func (h *REST) Executions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusNotImplemented, "job history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	execs, err := h.repo.Executions(r.Context(), id)
	if err != nil {
		h.fail(w, err, "failed to list executions", slog.String("job_id", id))
		return
	}
	if execs == nil {
		execs = []*domain.JobExecution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz: checks the primary backend.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.queues.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "queue backend not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps domain errors to status codes and logs the rest.
func (h *REST) fail(w http.ResponseWriter, err error, msg string, attrs ...any) {
	var (
		cfgErr    *domain.ConfigurationError
		notFound  *domain.JobNotFoundError
		typeErr   *domain.InvalidJobTypeError
		transport *domain.TransportUnavailableError
	)
	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusNotFound, cfgErr.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.As(err, &typeErr):
		writeError(w, http.StatusBadRequest, typeErr.Error())
	case errors.As(err, &transport):
		h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusServiceUnavailable, msg)
	default:
		h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
