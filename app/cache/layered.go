package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Layered puts an in-process TTL cache in front of an optional shared Store.
// Values cross the shared level as JSON. Store failures only cost a recompute.
type Layered[V any] struct {
	local *TTL[V]
	store Store
}

func NewLayered[V any](local *TTL[V], store Store) *Layered[V] {
	return &Layered[V]{
		local: local,
		store: store,
	}
}

func (l *Layered[V]) Local() *TTL[V] {
	return l.local
}

func (l *Layered[V]) Resolve(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	if l.store == nil {
		return l.local.Resolve(ctx, key, ttl, fn)
	}

	return l.local.Resolve(ctx, key, ttl, func(ctx context.Context) (V, error) {
		if v, ok := l.load(ctx, key); ok {
			return v, nil
		}

		v, err := fn(ctx)
		if err != nil {
			return v, err
		}

		l.save(ctx, key, v, ttl)
		return v, nil
	})
}

func (l *Layered[V]) load(ctx context.Context, key string) (V, bool) {
	var v V

	data, ok, err := l.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Shared cache read failed", "key", key, "error", err)
		return v, false
	}
	if !ok {
		return v, false
	}

	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("Discarding undecodable shared cache entry", "key", key, "error", err)
		_ = l.store.Delete(ctx, key)
		return v, false
	}
	return v, true
}

func (l *Layered[V]) save(ctx context.Context, key string, v V, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode shared cache entry", "key", key, "error", err)
		return
	}
	if err := l.store.Set(ctx, key, data, ttl); err != nil {
		slog.Warn("Shared cache write failed", "key", key, "error", err)
	}
}
