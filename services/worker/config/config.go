package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-audit-jobs/internal/bootstrap"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/services/scheduler"
)

// Config holds typed configuration for every worker subcommand.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	OTelEndpoint string
	SubmitTopic  string
	Schedules    []scheduler.Schedule

	Core bootstrap.Config
}

// Load reads all values from the given viper instance. Queue definitions
// start from the stock ones and are overridden key by key; they are
// validated when registered, not here.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogLevel:     v.GetString("log_level"),
		HTTPPort:     v.GetString("http_port"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		SubmitTopic:  v.GetString("submit_topic"),
		Core: bootstrap.Config{
			RedisAddr:    v.GetString("redis_addr"),
			PostgresDSN:  v.GetString("postgres_dsn"),
			KafkaBrokers: splitList(v.GetString("kafka_brokers")),
			EventsTopic:  v.GetString("events_topic"),
			DLQTopic:     v.GetString("dlq_topic"),
			ResultTTL:    v.GetDuration("result_ttl"),
			PollInterval: v.GetDuration("poll_interval"),
			Rules:        inventory.DefaultRules(),
			Scoring:      inventory.DefaultScoring(),
		},
	}

	cfg.Core.Queues = loadQueues(v)

	for key, target := range map[string]any{
		"rules":   &cfg.Core.Rules,
		"scoring": &cfg.Core.Scoring,
		"storage": &cfg.Core.Storage,
		"ai":      &cfg.Core.AI,
		"smtp":    &cfg.Core.SMTP,
	} {
		if err := v.UnmarshalKey(key, target); err != nil {
			return cfg, fmt.Errorf("config %s: %w", key, err)
		}
	}

	// Secrets usually come from the environment, which UnmarshalKey does
	// not consult for nested keys.
	for key, target := range map[string]*string{
		"ai.api_key":         &cfg.Core.AI.APIKey,
		"smtp.password":      &cfg.Core.SMTP.Password,
		"storage.access_key": &cfg.Core.Storage.AccessKey,
		"storage.secret_key": &cfg.Core.Storage.SecretKey,
	} {
		if s := v.GetString(key); s != "" {
			*target = s
		}
	}

	schedules, err := loadSchedules(v)
	if err != nil {
		return cfg, err
	}
	cfg.Schedules = schedules
	return cfg, nil
}

func loadQueues(v *viper.Viper) []domain.QueueDefinition {
	defs := domain.DefaultQueues()
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		index[d.Name] = i
	}
	var extra []string
	for name := range v.GetStringMap("queues") {
		if _, ok := index[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		index[name] = len(defs)
		defs = append(defs, domain.QueueDefinition{Name: name})
	}

	for i := range defs {
		d := &defs[i]
		prefix := "queues." + d.Name + "."
		set := func(key string) bool { return v.IsSet(prefix + key) }
		if set("concurrency") {
			d.Concurrency = v.GetInt(prefix + "concurrency")
		}
		if set("priority") {
			d.Priority = v.GetInt(prefix + "priority")
		}
		if set("attempts") {
			d.Attempts = v.GetInt(prefix + "attempts")
		}
		if set("backoff_type") {
			d.Backoff.Type = domain.BackoffType(v.GetString(prefix + "backoff_type"))
		}
		if set("backoff_delay") {
			d.Backoff.DelayMs = v.GetDuration(prefix + "backoff_delay").Milliseconds()
		}
		if set("timeout") {
			d.Timeout = v.GetDuration(prefix + "timeout")
		}
		if set("keep_completed") {
			d.Retention.KeepCompleted = v.GetInt(prefix + "keep_completed")
		}
		if set("keep_failed") {
			d.Retention.KeepFailed = v.GetInt(prefix + "keep_failed")
		}
		if set("rate_limit") {
			d.RateLimit = v.GetInt(prefix + "rate_limit")
		}
	}
	return defs
}

func loadSchedules(v *viper.Viper) ([]scheduler.Schedule, error) {
	var out []scheduler.Schedule
	for name := range v.GetStringMap("schedules") {
		prefix := "schedules." + name + "."
		s := scheduler.Schedule{
			Name:    name,
			Cron:    v.GetString(prefix + "cron"),
			Queue:   v.GetString(prefix + "queue"),
			JobType: v.GetString(prefix + "job_type"),
		}
		if s.Queue == "" {
			s.Queue = domain.QueueMaintenance
		}
		if s.Cron == "" || s.JobType == "" {
			return nil, fmt.Errorf("schedule %s: cron and job_type are required", name)
		}
		payload, err := json.Marshal(v.Get(prefix + "payload"))
		if err != nil {
			return nil, fmt.Errorf("schedule %s payload: %w", name, err)
		}
		if string(payload) == "null" {
			payload = json.RawMessage(`{}`)
		}
		s.Payload = payload
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

