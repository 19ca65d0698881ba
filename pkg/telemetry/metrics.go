package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auditjobs"

var (
	// ─── Submission ──────────────────────────────────────────────────────────────

	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_submitted_total",
		Help:      "Total jobs submitted, labelled by queue and job type.",
	}, []string{"queue", "type"})

	DegradedSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "degraded_submissions_total",
		Help:      "Jobs executed inline because the durable backend was unreachable.",
	}, []string{"queue"})

	// ─── Worker pools ────────────────────────────────────────────────────────────

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total job attempts finished, labelled by queue and outcome.",
	}, []string{"queue", "status"})

	JobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_active",
		Help:      "Jobs currently being executed.",
	}, []string{"queue"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Single attempt execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120, 600},
	}, []string{"queue"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total attempts rescheduled with backoff.",
	}, []string{"queue"})

	JobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "dlq_total",
		Help:      "Total jobs forwarded to the dead-letter topic.",
	}, []string{"queue"})

	// ─── ETL ─────────────────────────────────────────────────────────────────────

	ETLRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "etl",
		Name:      "records_total",
		Help:      "Inventory records processed, labelled valid or invalid.",
	}, []string{"result"})

	ETLQualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "etl",
		Name:      "quality_score",
		Help:      "Distribution of per-record quality scores.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// ─── Ingress ─────────────────────────────────────────────────────────────────

	IngressSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingress",
		Name:      "submissions_total",
		Help:      "Submission messages consumed from Kafka, labelled by outcome.",
	}, []string{"outcome"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingress",
		Name:      "rate_limited_total",
		Help:      "Total submissions rejected by the per-queue rate limiter.",
	}, []string{"queue"})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Scheduled submissions, labelled by schedule name and outcome.",
	}, []string{"schedule", "outcome"})

	SchedulerLeader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "is_leader",
		Help:      "1 when this instance holds the scheduler lock.",
	})
)
