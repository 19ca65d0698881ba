package cache

import (
	"context"
	"errors"
	"time"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Failover writes to primary and falls back to secondary while primary
// reports TransportUnavailableError. Reads check primary first, then
// secondary, so results written during an outage stay visible.
type Failover struct {
	primary   KV
	secondary KV
}

var _ KV = (*Failover)(nil)

func NewFailover(primary, secondary KV) *Failover {
	return &Failover{primary: primary, secondary: secondary}
}

func unavailable(err error) bool {
	var te *domain.TransportUnavailableError
	return errors.As(err, &te)
}

func (f *Failover) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if err == nil {
		// Drop any copy written during an outage so reads see the latest value.
		_ = f.secondary.Del(ctx, key)
		return nil
	}
	if !unavailable(err) {
		return err
	}
	return f.secondary.Set(ctx, key, value, ttl)
}

func (f *Failover) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := f.primary.Get(ctx, key)
	if err != nil && !unavailable(err) {
		return nil, err
	}
	if data != nil {
		return data, nil
	}
	return f.secondary.Get(ctx, key)
}

func (f *Failover) Del(ctx context.Context, key string) error {
	err := f.primary.Del(ctx, key)
	if serr := f.secondary.Del(ctx, key); serr != nil {
		return serr
	}
	if err != nil && !unavailable(err) {
		return err
	}
	return nil
}

// Ping reports the primary so readiness reflects the durable store.
func (f *Failover) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}
