// Package cache holds in-process TTL caches and an optional shared Redis level.
package cache

import (
	"context"
	"errors"
	"hash/maphash"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSize           = 10000
	DefaultComputeTimeout = time.Minute
	stripes               = 64
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a bounded key/value cache where every entry carries its own expiry.
// A read at or after the expiry behaves as a miss and evicts the entry.
// When full, the least recently used entry is dropped.
type TTL[V any] struct {
	items *lru.Cache[string, entry[V]]
	now   func() time.Time
	seed  maphash.Seed
	locks [stripes]sync.Mutex
	group singleflight.Group

	computeTimeout time.Duration
	mu             sync.Mutex
	waiters        map[string]int
	cancels        map[string]context.CancelFunc
}

type Option func(*options)

type options struct {
	size           int
	now            func() time.Time
	computeTimeout time.Duration
}

// WithSize bounds the number of entries.
func WithSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.size = size
		}
	}
}

// WithComputeTimeout bounds a shared Resolve computation. It runs detached
// from any single caller, so this is its only deadline.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.computeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func NewTTL[V any](opts ...Option) (*TTL[V], error) {
	o := options{size: DefaultSize, now: time.Now, computeTimeout: DefaultComputeTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	items, err := lru.New[string, entry[V]](o.size)
	if err != nil {
		return nil, err
	}

	return &TTL[V]{
		items:          items,
		now:            o.now,
		seed:           maphash.MakeSeed(),
		computeTimeout: o.computeTimeout,
		waiters:        make(map[string]int),
		cancels:        make(map[string]context.CancelFunc),
	}, nil
}

func (c *TTL[V]) lock(key string) *sync.Mutex {
	return &c.locks[maphash.String(c.seed, key)%stripes]
}

func (c *TTL[V]) Get(key string) (V, bool) {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	return c.get(key)
}

func (c *TTL[V]) get(key string) (V, bool) {
	var zero V

	e, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.items.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value until now+ttl. A non-positive ttl removes the key.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if ttl <= 0 {
		c.items.Remove(key)
		return
	}
	c.items.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *TTL[V]) Delete(key string) {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	c.items.Remove(key)
}

// Len counts entries including expired ones not yet evicted.
func (c *TTL[V]) Len() int {
	return c.items.Len()
}

// Purge evicts every expired entry and returns how many were dropped.
func (c *TTL[V]) Purge() int {
	purged := 0
	for _, key := range c.items.Keys() {
		mu := c.lock(key)
		mu.Lock()
		if e, ok := c.items.Peek(key); ok && !c.now().Before(e.expiresAt) {
			c.items.Remove(key)
			purged++
		}
		mu.Unlock()
	}
	return purged
}

// Resolve returns the cached value for key or computes it with fn. Concurrent
// misses for the same key share a single fn call. Errors are not cached.
//
// fn runs detached from the caller that started it, bounded by the compute
// timeout, and is cancelled only once every waiter has given up. A caller
// leaving early gets its own ctx.Err() and never affects the others.
func (c *TTL[V]) Resolve(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	return c.ResolveExpiring(ctx, key, func(ctx context.Context) (V, time.Duration, error) {
		v, err := fn(ctx)
		return v, ttl, err
	})
}

// ResolveExpiring is Resolve where fn picks the lifetime of the value it
// computes, for values that arrive already partly aged.
func (c *TTL[V]) ResolveExpiring(ctx context.Context, key string, fn func(context.Context) (V, time.Duration, error)) (V, error) {
	var zero V
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	for attempt := 0; ; attempt++ {
		c.join(key)
		ch := c.group.DoChan(key, func() (any, error) {
			return c.compute(ctx, key, fn)
		})

		select {
		case res := <-ch:
			c.leave(key, false)
			if res.Err != nil {
				// A flight abandoned by its other waiters can finish cancelled
				// just as a live caller joins it. Run again for that caller.
				if attempt == 0 && ctx.Err() == nil && errors.Is(res.Err, context.Canceled) {
					continue
				}
				return zero, res.Err
			}
			v, _ := res.Val.(V)
			return v, nil
		case <-ctx.Done():
			c.leave(key, true)
			return zero, ctx.Err()
		}
	}
}

func (c *TTL[V]) compute(ctx context.Context, key string, fn func(context.Context) (V, time.Duration, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
	c.mu.Lock()
	c.cancels[key] = cancel
	if c.waiters[key] == 0 {
		cancel()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, key)
		c.mu.Unlock()
		cancel()
	}()

	v, ttl, err := fn(fctx)
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

func (c *TTL[V]) join(key string) {
	c.mu.Lock()
	c.waiters[key]++
	c.mu.Unlock()
}

// leave drops a waiter. When the last one abandons, the flight is cancelled.
func (c *TTL[V]) leave(key string, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.waiters[key]--
	if c.waiters[key] > 0 {
		return
	}
	delete(c.waiters, key)
	if cancel, ok := c.cancels[key]; ok && abandoned {
		cancel()
	}
}
