package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// webhookPayload is the expected JSON structure in job.Payload. When Body
// is empty and ResultJobID is set, the body is that job's statistics.
type webhookPayload struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Body        json.RawMessage   `json:"body"`
	ResultJobID string            `json:"result_job_id"`
}

// WebhookHandler makes an outbound HTTP call.
type WebhookHandler struct {
	client  *resty.Client
	results *cache.Results
}

// NewWebhookHandler creates a WebhookHandler. results may be nil.
func NewWebhookHandler(results *cache.Results) *WebhookHandler {
	return &WebhookHandler{
		client:  resty.New().SetTimeout(15 * time.Second),
		results: results,
	}
}

func (h *WebhookHandler) JobType() string { return "notify.webhook" }

func (h *WebhookHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.webhook")
	defer span.End()

	var p webhookPayload
	if err := decode(job, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if p.URL == "" {
		err := missing(job, "url")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing 'url' field")
		return nil, err
	}
	if p.Method == "" {
		p.Method = http.MethodPost
	}
	span.SetAttributes(
		attribute.String("webhook.url", p.URL),
		attribute.String("webhook.method", p.Method),
	)

	body := []byte(p.Body)
	if len(body) == 0 && p.ResultJobID != "" && h.results != nil {
		res, err := h.results.Get(ctx, p.ResultJobID)
		if err != nil {
			return nil, fmt.Errorf("load result %s for webhook: %w", p.ResultJobID, err)
		}
		notice := map[string]any{"job_id": p.ResultJobID, "available": res != nil}
		if res != nil {
			notice["source"] = res.Source
			notice["statistics"] = res.Statistics
		}
		if body, err = json.Marshal(notice); err != nil {
			return nil, fmt.Errorf("marshal webhook body: %w", err)
		}
	}
	progress(50)

	req := h.client.R().SetContext(ctx)
	if len(body) > 0 {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	req.SetHeaders(p.Headers)
	resp, err := req.Execute(p.Method, p.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return nil, fmt.Errorf("webhook call to %s: %w", p.URL, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.StatusCode() >= http.StatusBadRequest {
		err := fmt.Errorf("webhook %s returned status %d", p.URL, resp.StatusCode())
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return nil, err
	}
	return json.Marshal(map[string]int{"status_code": resp.StatusCode()})
}
