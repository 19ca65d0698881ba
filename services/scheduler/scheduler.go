// Package scheduler fires repeatable jobs on cron schedules. Several
// instances may run; only the one holding the Redis leader key submits.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
)

const (
	leaderKey     = "scheduler:leader"
	leaderTTL     = 30 * time.Second
	checkInterval = 10 * time.Second
)

// renewScript extends the lock only for its owner.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Schedule is one repeatable job.
type Schedule struct {
	Name    string
	Cron    string // standard five-field expression or descriptor like @hourly
	Queue   string
	JobType string
	Payload json.RawMessage
}

// Submitter enqueues jobs.
type Submitter interface {
	Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts domain.JobOptions) (*domain.Job, error)
}

// Scheduler fires cron schedules with Redis leader election.
type Scheduler struct {
	cron       *cron.Cron
	submitter  Submitter
	redis      *redis.Client // nil: single instance, always leader
	instanceID string
	logger     *slog.Logger
	leader     atomic.Bool
	runCtx     context.Context
}

func NewScheduler(submitter Submitter, redisClient *redis.Client, instanceID string, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cron:       cron.New(),
		submitter:  submitter,
		redis:      redisClient,
		instanceID: instanceID,
		logger:     logger.With(slog.String("instance_id", instanceID)),
		runCtx:     context.Background(),
	}
	if redisClient == nil {
		s.leader.Store(true)
	}
	return s
}

// Add registers sched. The expression is validated here.
func (s *Scheduler) Add(sched Schedule) error {
	if sched.Queue == "" || sched.JobType == "" {
		return fmt.Errorf("schedule %q: queue and job type are required", sched.Name)
	}
	if _, err := s.cron.AddFunc(sched.Cron, func() { s.fire(s.runCtx, sched) }); err != nil {
		return fmt.Errorf("schedule %q: parse cron %q: %w", sched.Name, sched.Cron, err)
	}
	return nil
}

// Run starts the cron loop and keeps the leader lock fresh. Blocks until
// ctx is cancelled, then waits for running submissions and releases the lock.
func (s *Scheduler) Run(ctx context.Context) {
	s.runCtx = ctx
	s.elect(ctx)
	s.cron.Start()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.release()
			return
		case <-ticker.C:
			s.elect(ctx)
		}
	}
}

// IsLeader reports whether this instance currently fires schedules.
func (s *Scheduler) IsLeader() bool { return s.leader.Load() }

func (s *Scheduler) elect(ctx context.Context) {
	if s.redis == nil {
		return
	}
	was := s.leader.Load()
	now := s.acquireOrRenewLeadership(ctx)
	s.leader.Store(now)
	if now {
		telemetry.SchedulerLeader.Set(1)
	} else {
		telemetry.SchedulerLeader.Set(0)
	}
	switch {
	case now && !was:
		s.logger.Info("acquired scheduler leadership")
	case !now && was:
		s.logger.Warn("lost scheduler leadership")
	}
}

// acquireOrRenewLeadership attempts SETNX; returns true if this instance is the leader.
func (s *Scheduler) acquireOrRenewLeadership(ctx context.Context) bool {
	ok, err := s.redis.SetNX(ctx, leaderKey, s.instanceID, leaderTTL).Result()
	if err != nil {
		s.logger.Error("leader election SetNX", slog.String("error", err.Error()))
		return false
	}
	if ok {
		return true
	}

	result, err := renewScript.Run(ctx, s.redis, []string{leaderKey}, s.instanceID, leaderTTL.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("leader renewal", slog.String("error", err.Error()))
		return false
	}
	return result == 1
}

func (s *Scheduler) release() {
	if s.redis == nil || !s.leader.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.redis, []string{leaderKey}, s.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("leader release", slog.String("error", err.Error()))
	}
	s.leader.Store(false)
	telemetry.SchedulerLeader.Set(0)
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) {
	if !s.leader.Load() {
		telemetry.SchedulerRuns.WithLabelValues(sched.Name, "skipped").Inc()
		return
	}
	job, err := s.submitter.Submit(ctx, sched.Queue, sched.JobType, sched.Payload, domain.JobOptions{})
	if err != nil {
		telemetry.SchedulerRuns.WithLabelValues(sched.Name, "error").Inc()
		s.logger.Error("scheduled submission failed",
			slog.String("schedule", sched.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	telemetry.SchedulerRuns.WithLabelValues(sched.Name, "submitted").Inc()
	s.logger.Info("scheduled job fired",
		slog.String("schedule", sched.Name),
		slog.String("job_id", job.ID),
		slog.String("queue", sched.Queue),
		slog.String("job_type", sched.JobType),
	)
}
