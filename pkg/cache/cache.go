package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is a TTL cache of immutable values keyed by string.
// Implementations return copies, so callers may not observe each other's mutations.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V)
	// Flush drops every entry
	Flush(ctx context.Context)
}

// Memory is an in-process Store backed by go-cache
type Memory[V any] struct {
	items *gocache.Cache
}

// NewMemory creates a cache whose entries expire after ttl and are purged every cleanup interval
func NewMemory[V any](ttl, cleanup time.Duration) *Memory[V] {
	return &Memory[V]{items: gocache.New(ttl, cleanup)}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	raw, found := m.items.Get(key)
	if !found {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, value V) {
	m.items.Set(key, value, gocache.DefaultExpiration)
}

func (m *Memory[V]) Flush(_ context.Context) {
	m.items.Flush()
}
