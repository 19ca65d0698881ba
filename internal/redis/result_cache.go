package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
)

// ResultCache is the Redis implementation of cache.KV.
type ResultCache struct {
	client *redis.Client
	prefix string
}

var _ cache.KV = (*ResultCache)(nil)

// NewResultCache namespaces every key under prefix.
func NewResultCache(client *redis.Client, prefix string) *ResultCache {
	return &ResultCache{client: client, prefix: prefix}
}

func (c *ResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return transport("set "+key, err)
	}
	return nil
}

func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, transport("get "+key, err)
	}
	return data, nil
}

func (c *ResultCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return transport("del "+key, err)
	}
	return nil
}

func (c *ResultCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return transport("ping", err)
	}
	return nil
}
