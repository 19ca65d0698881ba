package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/internal/storage"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
)

// etlPayload names the uploaded sheet and the batch metadata that overrides
// whatever the sheet holds.
type etlPayload struct {
	File        string `json:"file"`
	AuditID     string `json:"audit_id"`
	Proveedor   string `json:"proveedor"`
	ResultTTLMs int64  `json:"result_ttl_ms"`
}

type etlSummary struct {
	JobID      string               `json:"job_id"`
	Source     string               `json:"source"`
	Statistics inventory.Statistics `json:"statistics"`
}

// ETLHandler runs the inventory pipeline over an uploaded spreadsheet and
// stores the full result in the result cache.
type ETLHandler struct {
	opener   storage.Opener
	pipeline *inventory.Pipeline
	results  *cache.Results
	logger   *slog.Logger
}

func NewETLHandler(opener storage.Opener, pipeline *inventory.Pipeline, results *cache.Results, logger *slog.Logger) *ETLHandler {
	return &ETLHandler{opener: opener, pipeline: pipeline, results: results, logger: logger}
}

func (h *ETLHandler) JobType() string { return "etl.inventory" }

func (h *ETLHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.etl_inventory")
	defer span.End()

	var p etlPayload
	if err := decode(job, &p); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if p.File == "" {
		span.SetStatus(codes.Error, "missing 'file' field")
		return nil, missing(job, "file")
	}
	span.SetAttributes(attribute.String("etl.file", p.File))

	sheet, err := h.read(ctx, p.File)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	progress(inventory.ProgressParsed)

	res := h.pipeline.Run(job.ID, sheet, inventory.Metadata{AuditID: p.AuditID, Proveedor: p.Proveedor}, progress)

	for _, rec := range res.Records {
		if rec.Validation.Valid() {
			telemetry.ETLRecords.WithLabelValues("valid").Inc()
		} else {
			telemetry.ETLRecords.WithLabelValues("invalid").Inc()
		}
		telemetry.ETLQualityScore.Observe(float64(rec.QualityScore))
	}

	if h.results != nil {
		ttl := time.Duration(p.ResultTTLMs) * time.Millisecond
		if err := h.results.Set(ctx, job.ID, res, ttl); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache write failed")
			return nil, err
		}
	}
	progress(inventory.ProgressPersisted)

	span.SetAttributes(
		attribute.Int("etl.records", res.Statistics.Total),
		attribute.Int("etl.valid", res.Statistics.Valid),
	)
	h.logger.Info("inventory processed",
		slog.String("job_id", job.ID),
		slog.String("source", res.Source),
		slog.Int("total", res.Statistics.Total),
		slog.Int("valid", res.Statistics.Valid),
		slog.Float64("avg_score", res.Statistics.AvgScore),
	)
	return json.Marshal(etlSummary{JobID: job.ID, Source: res.Source, Statistics: res.Statistics})
}

// read opens and parses file. A missing file or unreadable sheet will not
// get better on retry, so both surface as ParsingError.
func (h *ETLHandler) read(ctx context.Context, file string) (*inventory.Sheet, error) {
	rc, err := h.opener.Open(ctx, file)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &domain.ParsingError{Source: file, Reason: "file not found", Err: err}
		}
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer rc.Close()
	return inventory.ReadSource(rc, file)
}
