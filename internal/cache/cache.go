// Package cache stores job results independently of queue metadata.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
)

// KV is the minimal key-value contract results are stored through.
// Get returns (nil, nil) on a miss.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process KV with lazy expiry.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// NewMemory creates an empty in-process KV.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]entry), now: time.Now}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.items, key)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func resultKey(jobID string) string { return "result:" + jobID }

// Results stores ETL job results keyed by job ID.
type Results struct {
	kv  KV
	ttl time.Duration
}

// DefaultResultTTL applies when NewResults is given a zero TTL.
const DefaultResultTTL = 24 * time.Hour

// NewResults wraps kv. ttl is the default lifetime of stored results.
func NewResults(kv KV, ttl time.Duration) *Results {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Results{kv: kv, ttl: ttl}
}

// Set stores res. A zero ttl uses the default. Last writer wins.
func (r *Results) Set(ctx context.Context, jobID string, res *inventory.JobResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", jobID, err)
	}
	if err := r.kv.Set(ctx, resultKey(jobID), data, ttl); err != nil {
		return fmt.Errorf("store result %s: %w", jobID, err)
	}
	return nil
}

// Get returns the stored result, or nil when it is not yet available or expired.
func (r *Results) Get(ctx context.Context, jobID string) (*inventory.JobResult, error) {
	data, err := r.kv.Get(ctx, resultKey(jobID))
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", jobID, err)
	}
	if data == nil {
		return nil, nil
	}
	var res inventory.JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result %s: %w", jobID, err)
	}
	return &res, nil
}

// Evict removes a result before its TTL.
func (r *Results) Evict(ctx context.Context, jobID string) error {
	if err := r.kv.Del(ctx, resultKey(jobID)); err != nil {
		return fmt.Errorf("evict result %s: %w", jobID, err)
	}
	return nil
}

// Ping checks the backing store.
func (r *Results) Ping(ctx context.Context) error {
	return r.kv.Ping(ctx)
}
