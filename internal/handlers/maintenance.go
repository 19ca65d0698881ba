package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// JobCleaner is the slice of the queue manager the clean processor needs.
type JobCleaner interface {
	Queues() []domain.QueueDefinition
	Clean(ctx context.Context, queue string, opts domain.CleanOptions) (int, error)
}

type cleanPayload struct {
	Queues      []string `json:"queues"`
	OlderThanMs int64    `json:"older_than_ms"`
	Status      string   `json:"status"`
	Limit       int      `json:"limit"`
}

// CleanHandler removes finished jobs across queues. An empty queue list
// means every registered queue.
type CleanHandler struct {
	cleaner JobCleaner
	logger  *slog.Logger
}

func NewCleanHandler(cleaner JobCleaner, logger *slog.Logger) *CleanHandler {
	return &CleanHandler{cleaner: cleaner, logger: logger}
}

func (h *CleanHandler) JobType() string { return "maintenance.clean" }

func (h *CleanHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	var p cleanPayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	if p.OlderThanMs < 0 {
		return nil, &domain.InvalidPayloadError{JobType: job.Type, Reason: "older_than_ms must not be negative"}
	}
	queues := p.Queues
	if len(queues) == 0 {
		for _, d := range h.cleaner.Queues() {
			queues = append(queues, d.Name)
		}
	}
	opts := domain.CleanOptions{
		OlderThan: time.Duration(p.OlderThanMs) * time.Millisecond,
		Limit:     p.Limit,
		Status:    domain.Status(p.Status),
	}

	removed := make(map[string]int, len(queues))
	var errs []error
	for i, q := range queues {
		n, err := h.cleaner.Clean(ctx, q, opts)
		if err != nil {
			errs = append(errs, err)
		} else {
			removed[q] = n
		}
		progress((i + 1) * 100 / len(queues))
	}
	h.logger.Info("maintenance clean finished",
		slog.String("job_id", job.ID),
		slog.Any("removed", removed),
		slog.Int("errors", len(errs)),
	)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	return json.Marshal(map[string]any{"removed": removed})
}

type purgePayload struct {
	JobIDs []string `json:"job_ids"`
}

// PurgeResultsHandler evicts cached ETL results ahead of their TTL.
type PurgeResultsHandler struct {
	results *cache.Results
}

func NewPurgeResultsHandler(results *cache.Results) *PurgeResultsHandler {
	return &PurgeResultsHandler{results: results}
}

func (h *PurgeResultsHandler) JobType() string { return "maintenance.purge-results" }

func (h *PurgeResultsHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	var p purgePayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	if len(p.JobIDs) == 0 {
		return nil, missing(job, "job_ids")
	}
	for i, id := range p.JobIDs {
		if err := h.results.Evict(ctx, id); err != nil {
			return nil, err
		}
		progress((i + 1) * 100 / len(p.JobIDs))
	}
	return json.Marshal(map[string]int{"evicted": len(p.JobIDs)})
}
