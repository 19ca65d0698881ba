package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// EmailConfig holds SMTP connection details.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// emailPayload is the expected JSON structure in job.Payload. When
// ResultJobID names a finished ETL job, its statistics are appended to Body.
type emailPayload struct {
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ResultJobID string   `json:"result_job_id"`
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailHandler sends audit notifications via SMTP.
type EmailHandler struct {
	cfg     EmailConfig
	results *cache.Results
	send    SendFunc
}

// NewEmailHandler creates an EmailHandler from config. results may be nil.
func NewEmailHandler(cfg EmailConfig, results *cache.Results) *EmailHandler {
	return &EmailHandler{cfg: cfg, results: results, send: smtp.SendMail}
}

// WithSender replaces the SMTP transport.
func (h *EmailHandler) WithSender(send SendFunc) *EmailHandler {
	h.send = send
	return h
}

func (h *EmailHandler) JobType() string { return "notify.email" }

func (h *EmailHandler) Handle(ctx context.Context, job *domain.Job, progress func(int)) (json.RawMessage, error) {
	ctx, span := otel.Tracer("handlers").Start(ctx, "handler.email")
	defer span.End()

	var p emailPayload
	if err := decode(job, &p); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid payload")
		return nil, err
	}
	if len(p.To) == 0 {
		err := missing(job, "to")
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing 'to' field")
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("email.to", p.To))

	body := p.Body
	if p.ResultJobID != "" && h.results != nil {
		res, err := h.results.Get(ctx, p.ResultJobID)
		if err != nil {
			return nil, fmt.Errorf("load result %s for email: %w", p.ResultJobID, err)
		}
		body += "\r\n\r\n" + summarize(p.ResultJobID, res)
	}
	progress(50)

	addr := fmt.Sprintf("%s:%d", h.cfg.Host, h.cfg.Port)
	msg := buildMIME(h.cfg.From, p.To, p.Subject, body)

	var auth smtp.Auth
	if h.cfg.Username != "" {
		auth = smtp.PlainAuth("", h.cfg.Username, h.cfg.Password, h.cfg.Host)
	}

	// net/smtp has no context support; race the send against ctx.
	done := make(chan error, 1)
	go func() {
		done <- h.send(addr, auth, h.cfg.From, p.To, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "smtp send failed")
			return nil, fmt.Errorf("smtp send to %s: %w", strings.Join(p.To, ","), err)
		}
		return json.Marshal(map[string]any{"sent_to": p.To})
	case <-ctx.Done():
		err := fmt.Errorf("email send interrupted: %w", ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "timeout")
		return nil, err
	}
}

func buildMIME(from string, to []string, subject, body string) []byte {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(to, ", "), subject, body,
	)
	return []byte(msg)
}
