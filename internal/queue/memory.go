package queue

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

type waitEntry struct {
	id       string
	priority int
	seq      int64
}

// waitHeap holds waiting entries; stale entries are skipped on pop.
type waitHeap []waitEntry

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h waitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waitHeap) Push(x any)   { *h = append(*h, x.(waitEntry)) }
func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

type memQueue struct {
	jobs    map[string]*domain.Job
	waiting waitHeap
	delayed map[string]struct{}
	paused  bool
}

// MemoryStore is an in-process Store. Jobs are lost on restart.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    int64
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memQueue)}
}

func (s *MemoryStore) queue(name string) *memQueue {
	q, ok := s.queues[name]
	if !ok {
		q = &memQueue{jobs: make(map[string]*domain.Job), delayed: make(map[string]struct{})}
		s.queues[name] = q
	}
	return q
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Add(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.Seq = s.seq
	s.index(s.queue(job.Queue), job.Clone())
	return nil
}

func (s *MemoryStore) Save(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index(s.queue(job.Queue), job.Clone())
	return nil
}

// index stores job and files it under its status. Caller holds mu.
func (s *MemoryStore) index(q *memQueue, job *domain.Job) {
	q.jobs[job.ID] = job
	delete(q.delayed, job.ID)
	switch job.Status {
	case domain.StatusWaiting:
		heap.Push(&q.waiting, waitEntry{id: job.ID, priority: job.Priority, seq: job.Seq})
	case domain.StatusDelayed:
		q.delayed[job.ID] = struct{}{}
	}
}

func (s *MemoryStore) Get(_ context.Context, queue, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.queue(queue).jobs[id]
	if !ok {
		return nil, &domain.JobNotFoundError{Queue: queue, JobID: id}
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Pop(_ context.Context, queue string, now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)

	for id := range q.delayed {
		job := q.jobs[id]
		if job.ReadyAt == nil || !job.ReadyAt.After(now) {
			job.Status = domain.StatusWaiting
			job.ReadyAt = nil
			job.UpdatedAt = now
			s.index(q, job)
		}
	}

	for q.waiting.Len() > 0 {
		e := heap.Pop(&q.waiting).(waitEntry)
		job, ok := q.jobs[e.id]
		if !ok || job.Status != domain.StatusWaiting || job.Priority != e.priority || job.Seq != e.seq {
			continue
		}
		job.Status = domain.StatusActive
		job.UpdatedAt = now
		return job.Clone(), nil
	}
	return nil, nil
}

// Claim moves the waiting job id to ACTIVE. It reports false when another
// caller popped or claimed it first.
func (s *MemoryStore) Claim(queue, id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.queue(queue).jobs[id]
	if !ok || job.Status != domain.StatusWaiting {
		return false
	}
	job.Status = domain.StatusActive
	job.UpdatedAt = now
	return true
}

func (s *MemoryStore) Requeue(_ context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)
	n := 0
	for _, job := range q.jobs {
		if job.Status == domain.StatusActive {
			job.Status = domain.StatusWaiting
			s.index(q, job)
			n++
		}
	}
	return n, nil
}

// finished returns jobs in status ordered oldest first. Caller holds mu.
func (q *memQueue) finished(status domain.Status) []*domain.Job {
	var out []*domain.Job
	for _, job := range q.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return finishedAt(out[i]).Before(finishedAt(out[j]))
	})
	return out
}

func finishedAt(job *domain.Job) time.Time {
	if job.FinishedAt != nil {
		return *job.FinishedAt
	}
	return job.UpdatedAt
}

func (s *MemoryStore) Trim(_ context.Context, queue string, status domain.Status, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)
	jobs := q.finished(status)
	if len(jobs) <= keep {
		return 0, nil
	}
	drop := jobs[:len(jobs)-keep]
	for _, job := range drop {
		delete(q.jobs, job.ID)
	}
	return len(drop), nil
}

func (s *MemoryStore) Clean(_ context.Context, queue string, status domain.Status, cutoff time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)
	n := 0
	for _, job := range q.finished(status) {
		if limit > 0 && n >= limit {
			break
		}
		if !finishedAt(job).Before(cutoff) {
			break
		}
		delete(q.jobs, job.ID)
		n++
	}
	return n, nil
}

func (s *MemoryStore) SetPaused(_ context.Context, queue string, paused bool) error {
	s.mu.Lock()
	s.queue(queue).paused = paused
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsPaused(_ context.Context, queue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue(queue).paused, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string) (domain.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue(queue)
	c := domain.JobCounts{Paused: q.paused}
	for _, job := range q.jobs {
		switch job.Status {
		case domain.StatusWaiting:
			c.Waiting++
		case domain.StatusDelayed:
			c.Delayed++
		case domain.StatusActive:
			c.Active++
		case domain.StatusCompleted:
			c.Completed++
		case domain.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}
