// Package redis holds the Redis-backed job ledger, result cache and
// submission rate limiter.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/queue"
)

const seqKey = "q:seq"

func jobKey(queue, id string) string { return "q:" + queue + ":job:" + id }
func pausedKey(queue string) string  { return "q:" + queue + ":paused" }

func setKey(queue string, s domain.Status) string {
	return "q:" + queue + ":" + string(s)
}

var statuses = []domain.Status{
	domain.StatusWaiting,
	domain.StatusDelayed,
	domain.StatusActive,
	domain.StatusCompleted,
	domain.StatusFailed,
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

// transport marks a Redis failure so the manager can fall back to inline
// execution.
func transport(op string, err error) error {
	return &domain.TransportUnavailableError{Op: "redis " + op, Err: err}
}

// StateStore keeps every queue's jobs in Redis. Each job is a JSON string
// and is indexed in exactly one sorted set per status:
//
//	waiting    score = priority*1e12 + arrival sequence
//	delayed    score = ready-at, unix ms
//	active     score = last update, unix ms
//	completed  score = finished-at, unix ms
//	failed     score = finished-at, unix ms
type StateStore struct {
	client *redis.Client
}

var _ queue.Store = (*StateStore)(nil)

// NewStateStore creates a Redis-backed job store.
func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return transport("ping", err)
	}
	return nil
}

func (s *StateStore) Add(ctx context.Context, job *domain.Job) error {
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return transport("add", err)
	}
	job.Seq = seq
	return s.Save(ctx, job)
}

func waitScore(job *domain.Job) float64 { return queue.WaitScore(job) }

func score(job *domain.Job) float64 {
	switch job.Status {
	case domain.StatusWaiting:
		return waitScore(job)
	case domain.StatusDelayed:
		if job.ReadyAt != nil {
			return float64(job.ReadyAt.UnixMilli())
		}
	case domain.StatusCompleted, domain.StatusFailed:
		if job.FinishedAt != nil {
			return float64(job.FinishedAt.UnixMilli())
		}
	}
	return float64(job.UpdatedAt.UnixMilli())
}

// Save writes job and moves it to the set of its status in one transaction.
func (s *StateStore) Save(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.Queue, job.ID), data, 0)
		for _, st := range statuses {
			pipe.ZRem(ctx, setKey(job.Queue, st), job.ID)
		}
		pipe.ZAdd(ctx, setKey(job.Queue, job.Status), redis.Z{Score: score(job), Member: job.ID})
		return nil
	})
	if err != nil {
		return transport("save", err)
	}
	return nil
}

func (s *StateStore) Get(ctx context.Context, queue, id string) (*domain.Job, error) {
	data, err := s.client.Get(ctx, jobKey(queue, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.JobNotFoundError{Queue: queue, JobID: id}
		}
		return nil, transport("get", err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// claimScript moves the lowest waiting id straight into the active set, so
// a job is indexed somewhere even if the follow-up write never happens.
// Requeue then finds it.
var claimScript = redis.NewScript(`
	local popped = redis.call("zpopmin", KEYS[1])
	if #popped == 0 then
		return false
	end
	redis.call("zadd", KEYS[2], ARGV[1], popped[1])
	return popped[1]
`)

// promoteScript moves one delayed id to the waiting set if it is still delayed.
var promoteScript = redis.NewScript(`
	if redis.call("zrem", KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	redis.call("zadd", KEYS[2], ARGV[2], ARGV[1])
	return 1
`)

// Pop is safe across processes: the claim script decides which caller owns
// a job.
func (s *StateStore) Pop(ctx context.Context, queue string, now time.Time) (*domain.Job, error) {
	if err := s.promote(ctx, queue, now); err != nil {
		return nil, err
	}
	for {
		id, err := s.claim(ctx, queue, now)
		if err != nil || id == "" {
			return nil, err
		}
		job, err := s.Get(ctx, queue, id)
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			// Trimmed or cleaned between index and pop.
			if err := s.client.ZRem(ctx, setKey(queue, domain.StatusActive), id).Err(); err != nil {
				return nil, transport("pop", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		job.Status = domain.StatusActive
		job.UpdatedAt = now
		if err := s.Save(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}
}

// claim returns "" when nothing is waiting.
func (s *StateStore) claim(ctx context.Context, queue string, now time.Time) (string, error) {
	keys := []string{setKey(queue, domain.StatusWaiting), setKey(queue, domain.StatusActive)}
	id, err := claimScript.Run(ctx, s.client, keys, now.UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", transport("pop", err)
	}
	return id, nil
}

func (s *StateStore) promote(ctx context.Context, queue string, now time.Time) error {
	delayed := setKey(queue, domain.StatusDelayed)
	due, err := s.client.ZRangeByScore(ctx, delayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return transport("promote", err)
	}
	for _, id := range due {
		job, err := s.Get(ctx, queue, id)
		var notFound *domain.JobNotFoundError
		if errors.As(err, &notFound) {
			if err := s.client.ZRem(ctx, delayed, id).Err(); err != nil {
				return transport("promote", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		keys := []string{delayed, setKey(queue, domain.StatusWaiting)}
		moved, err := promoteScript.Run(ctx, s.client, keys, id, waitScore(job)).Int()
		if err != nil {
			return transport("promote", err)
		}
		if moved == 0 {
			continue
		}
		job.Status = domain.StatusWaiting
		job.ReadyAt = nil
		job.UpdatedAt = now
		if err := s.Save(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (s *StateStore) Requeue(ctx context.Context, queue string) (int, error) {
	ids, err := s.client.ZRange(ctx, setKey(queue, domain.StatusActive), 0, -1).Result()
	if err != nil {
		return 0, transport("requeue", err)
	}
	n := 0
	for _, id := range ids {
		job, err := s.Get(ctx, queue, id)
		if err != nil {
			continue
		}
		job.Status = domain.StatusWaiting
		if err := s.Save(ctx, job); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *StateStore) drop(ctx context.Context, queue string, status domain.Status, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(queue, id)
		members[i] = id
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, setKey(queue, status), members...)
		return nil
	})
	if err != nil {
		return transport("drop", err)
	}
	return nil
}

func (s *StateStore) Trim(ctx context.Context, queue string, status domain.Status, keep int) (int, error) {
	key := setKey(queue, status)
	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, transport("trim", err)
	}
	excess := total - int64(keep)
	if excess <= 0 {
		return 0, nil
	}
	ids, err := s.client.ZRange(ctx, key, 0, excess-1).Result()
	if err != nil {
		return 0, transport("trim", err)
	}
	if err := s.drop(ctx, queue, status, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *StateStore) Clean(ctx context.Context, queue string, status domain.Status, cutoff time.Time, limit int) (int, error) {
	by := &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, setKey(queue, status), by).Result()
	if err != nil {
		return 0, transport("clean", err)
	}
	if err := s.drop(ctx, queue, status, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *StateStore) SetPaused(ctx context.Context, queue string, paused bool) error {
	var err error
	if paused {
		err = s.client.Set(ctx, pausedKey(queue), "1", 0).Err()
	} else {
		err = s.client.Del(ctx, pausedKey(queue)).Err()
	}
	if err != nil {
		return transport("pause", err)
	}
	return nil
}

func (s *StateStore) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := s.client.Exists(ctx, pausedKey(queue)).Result()
	if err != nil {
		return false, transport("pause check", err)
	}
	return n == 1, nil
}

func (s *StateStore) Counts(ctx context.Context, queue string) (domain.JobCounts, error) {
	cards := make(map[domain.Status]*redis.IntCmd, len(statuses))
	var paused *redis.IntCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range statuses {
			cards[st] = pipe.ZCard(ctx, setKey(queue, st))
		}
		paused = pipe.Exists(ctx, pausedKey(queue))
		return nil
	})
	if err != nil {
		return domain.JobCounts{}, transport("counts", err)
	}
	return domain.JobCounts{
		Waiting:   cards[domain.StatusWaiting].Val(),
		Delayed:   cards[domain.StatusDelayed].Val(),
		Active:    cards[domain.StatusActive].Val(),
		Completed: cards[domain.StatusCompleted].Val(),
		Failed:    cards[domain.StatusFailed].Val(),
		Paused:    paused.Val() == 1,
	}, nil
}
