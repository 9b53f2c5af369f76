package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"character-chat/backend/pkg/logger"
	sharedredis "character-chat/backend/shared/redis"
)

// Redis is a Store shared across instances. Values travel as JSON, so every
// Get decodes a fresh copy. Failures degrade to cache misses.
type Redis[V any] struct {
	client *sharedredis.RedisClient
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedis[V any](client *sharedredis.RedisClient, prefix string, ttl time.Duration, log *logger.Logger) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var value V
	raw, err := r.client.Get(ctx, r.prefix+key)
	if err != nil {
		if !errors.Is(err, sharedredis.ErrNil) {
			r.log.Warn("Cache read failed", "key", key, "error", err.Error())
		}
		return value, false
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		r.log.Warn("Cache entry undecodable", "key", key, "error", err.Error())
		return value, false
	}
	return value, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.Warn("Cache entry unencodable", "key", key, "error", err.Error())
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl); err != nil {
		r.log.Warn("Cache write failed", "key", key, "error", err.Error())
	}
}

func (r *Redis[V]) Flush(ctx context.Context) {
	if err := r.client.DelPrefix(ctx, r.prefix); err != nil {
		r.log.Warn("Cache flush failed", "prefix", r.prefix, "error", err.Error())
	}
}
