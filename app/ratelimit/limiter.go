// Package ratelimit throttles outbound provider calls with sliding-window logs:
// one global window shared by every endpoint of a connector and one window per
// endpoint key.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultInterval = 60 * time.Second
	DefaultBuffer   = 100 * time.Millisecond
)

// Config sets the window ceilings. A zero limit disables that window.
type Config struct {
	GlobalLimit   int
	EndpointLimit int
	Interval      time.Duration
	Buffer        time.Duration
}

type window struct {
	mu     sync.Mutex
	stamps []time.Time
}

// prune drops admissions that have left the trailing interval.
func (w *window) prune(now time.Time, interval time.Duration) {
	cutoff := now.Add(-interval)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// delay returns how long until the window has room, or zero if it has room now.
func (w *window) delay(now time.Time, interval time.Duration, limit int) time.Duration {
	if limit <= 0 || len(w.stamps) < limit {
		return 0
	}
	return w.stamps[len(w.stamps)-limit].Add(interval).Sub(now)
}

type Limiter struct {
	cfg      Config
	clock    Clock
	observer func(key string, wait time.Duration)

	global    window
	endpoints map[string]*window
	mu        sync.RWMutex
}

type Option func(*Limiter)

func WithClock(clock Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithObserver registers a callback invoked before every wait.
func WithObserver(fn func(key string, wait time.Duration)) Option {
	return func(l *Limiter) {
		l.observer = fn
	}
}

func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}

	l := &Limiter{
		cfg:       cfg,
		clock:     SystemClock(),
		endpoints: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a call to the endpoint identified by key is admitted
// under both windows, or ctx is done. After every wait both windows are
// re-evaluated from scratch since other callers may have been admitted.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := l.tryAdmit(key)
		if wait <= 0 {
			return nil
		}

		slog.Debug("Rate limit reached, waiting", "endpoint", key, "wait", wait)
		if l.observer != nil {
			l.observer(key, wait)
		}

		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryAdmit records an admission and returns zero, or returns the wait needed
// before the next attempt.
func (l *Limiter) tryAdmit(key string) time.Duration {
	ew := l.endpoint(key)

	// Lock order: endpoint, then global.
	ew.mu.Lock()
	defer ew.mu.Unlock()
	l.global.mu.Lock()
	defer l.global.mu.Unlock()

	now := l.clock.Now()
	ew.prune(now, l.cfg.Interval)
	l.global.prune(now, l.cfg.Interval)

	wait := max(
		ew.delay(now, l.cfg.Interval, l.cfg.EndpointLimit),
		l.global.delay(now, l.cfg.Interval, l.cfg.GlobalLimit),
	)
	if wait > 0 {
		return wait + l.cfg.Buffer
	}

	ew.stamps = append(ew.stamps, now)
	l.global.stamps = append(l.global.stamps, now)
	return 0
}

func (l *Limiter) endpoint(key string) *window {
	l.mu.RLock()
	w, exists := l.endpoints[key]
	l.mu.RUnlock()

	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if w, exists := l.endpoints[key]; exists {
		return w
	}

	w = &window{}
	l.endpoints[key] = w
	return w
}

// Stats is a point-in-time view of the window sizes.
type Stats struct {
	Global        int            `json:"global"`
	GlobalLimit   int            `json:"global_limit"`
	Endpoints     map[string]int `json:"endpoints"`
	EndpointLimit int            `json:"endpoint_limit"`
}

func (l *Limiter) Stats() Stats {
	now := l.clock.Now()

	l.mu.RLock()
	keys := make(map[string]*window, len(l.endpoints))
	for k, w := range l.endpoints {
		keys[k] = w
	}
	l.mu.RUnlock()

	stats := Stats{
		GlobalLimit:   l.cfg.GlobalLimit,
		EndpointLimit: l.cfg.EndpointLimit,
		Endpoints:     make(map[string]int, len(keys)),
	}
	for k, w := range keys {
		w.mu.Lock()
		w.prune(now, l.cfg.Interval)
		stats.Endpoints[k] = len(w.stamps)
		w.mu.Unlock()
	}

	l.global.mu.Lock()
	l.global.prune(now, l.cfg.Interval)
	stats.Global = len(l.global.stamps)
	l.global.mu.Unlock()

	return stats
}
