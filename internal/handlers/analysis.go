package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/storage"
)

// AnalysisConfig points at an OpenAI-compatible chat completions service.
type AnalysisConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

const (
	defaultTextPrompt  = "Summarize the findings of this IT inventory audit note and list any compliance risks."
	defaultImagePrompt = "Describe the equipment in this audit photo and read any visible labels, serial numbers or specs."
	maxImageBytes      = 10 << 20
)

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or parts for image input
}

type chatPart struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	ImageURL *chatImage `json:"image_url,omitempty"`
}

type chatImage struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// analysisClient is shared by the text and image processors.
type analysisClient struct {
	client   *resty.Client
	endpoint string
	model    string
}

func newAnalysisClient(cfg AnalysisConfig) *analysisClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &analysisClient{
		client:   client,
		endpoint: strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions",
		model:    cfg.Model,
	}
}

func (c *analysisClient) complete(ctx context.Context, messages []chatMessage) (string, error) {
	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: messages, MaxTokens: 500}).
		SetResult(&out).
		SetError(&out).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("call analysis service: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		msg := string(resp.Body())
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("analysis service returned HTTP %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("analysis service returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type analysisResult struct {
	Model    string `json:"model"`
	Analysis string `json:"analysis"`
}

func (c *analysisClient) result(text string) (json.RawMessage, error) {
	return json.Marshal(analysisResult{Model: c.model, Analysis: text})
}

// TextAnalysisHandler sends free text from an audit to the analysis service.
type TextAnalysisHandler struct {
	api *analysisClient
}

type textPayload struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt"`
}

func NewTextAnalysisHandler(cfg AnalysisConfig) *TextAnalysisHandler {
	return &TextAnalysisHandler{api: newAnalysisClient(cfg)}
}

func (h *TextAnalysisHandler) JobType() string { return "ia.analyze-text" }

func (h *TextAnalysisHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.analyze_text")
	defer span.End()

	var p textPayload
	if err := decode(job, &p); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if strings.TrimSpace(p.Text) == "" {
		span.SetStatus(codes.Error, "missing 'text' field")
		return nil, missing(job, "text")
	}
	if p.Prompt == "" {
		p.Prompt = defaultTextPrompt
	}
	span.SetAttributes(attribute.Int("analysis.text_length", len(p.Text)))
	progress(20)

	text, err := h.api.complete(ctx, []chatMessage{
		{Role: "system", Content: p.Prompt},
		{Role: "user", Content: p.Text},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}
	progress(90)
	return h.api.result(text)
}

// ImageAnalysisHandler sends an audit photo, read from storage or linked by
// URL, to the analysis service.
type ImageAnalysisHandler struct {
	api    *analysisClient
	opener storage.Opener
}

type imagePayload struct {
	ImageKey string `json:"image_key"`
	ImageURL string `json:"image_url"`
	Prompt   string `json:"prompt"`
}

func NewImageAnalysisHandler(cfg AnalysisConfig, opener storage.Opener) *ImageAnalysisHandler {
	return &ImageAnalysisHandler{api: newAnalysisClient(cfg), opener: opener}
}

func (h *ImageAnalysisHandler) JobType() string { return "ia.analyze-image" }

func (h *ImageAnalysisHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.analyze_image")
	defer span.End()

	var p imagePayload
	if err := decode(job, &p); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if p.ImageKey == "" && p.ImageURL == "" {
		span.SetStatus(codes.Error, "missing image reference")
		return nil, missing(job, "image_key")
	}
	if p.Prompt == "" {
		p.Prompt = defaultImagePrompt
	}

	url := p.ImageURL
	if p.ImageKey != "" {
		dataURL, err := h.inline(ctx, job, p.ImageKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "image unavailable")
			return nil, err
		}
		url = dataURL
		span.SetAttributes(attribute.String("analysis.image_key", p.ImageKey))
	}
	progress(30)

	text, err := h.api.complete(ctx, []chatMessage{
		{Role: "system", Content: p.Prompt},
		{Role: "user", Content: []chatPart{{Type: "image_url", ImageURL: &chatImage{URL: url}}}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return nil, err
	}
	progress(90)
	return h.api.result(text)
}

// inline reads key from storage into a base64 data URL.
func (h *ImageAnalysisHandler) inline(ctx context.Context, job *domain.Job, key string) (string, error) {
	if h.opener == nil {
		return "", &domain.InvalidPayloadError{JobType: job.Type, Reason: "no storage configured for image_key"}
	}
	rc, err := h.opener.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", &domain.InvalidPayloadError{JobType: job.Type, Reason: "image not found", Err: err}
		}
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", key, err)
	}
	if len(data) > maxImageBytes {
		return "", &domain.InvalidPayloadError{JobType: job.Type, Reason: "image exceeds 10 MiB"}
	}
	return "data:" + imageMIME(key) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func imageMIME(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	}
	return "image/jpeg"
}
