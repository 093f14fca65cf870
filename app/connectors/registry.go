// Package connectors builds the configured provider connectors, each with its
// own rate limiter and aggregator.
package connectors

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedgate/app/connectors/bluesky"
	"github.com/lysyi3m/feedgate/app/connectors/farcaster"
	"github.com/lysyi3m/feedgate/app/connectors/git"
	"github.com/lysyi3m/feedgate/app/connectors/rss"
	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/metrics"
	"github.com/lysyi3m/feedgate/app/ratelimit"
)

// Entry is everything needed to serve one connector.
type Entry struct {
	Connector  feed.Connector
	Aggregator *feed.Aggregator
	Limiter    *ratelimit.Limiter
	Config     *Config
}

type Registry struct {
	entries map[string]*Entry
	names   []string
}

// NewRegistry builds every enabled connector in cc. opts are applied to each
// connector's upstream client after its own settings.
func NewRegistry(cc *ConfigCache, userAgent string, opts ...upstream.Option) (*Registry, error) {
	r := &Registry{entries: make(map[string]*Entry)}

	for _, config := range cc.GetEnabledConfigs() {
		name := config.Name
		limiter := ratelimit.New(config.LimiterConfig(), ratelimit.WithObserver(func(key string, wait time.Duration) {
			metrics.RecordLimiterWait(name, wait)
		}))

		clientOpts := []upstream.Option{
			upstream.WithLimiter(limiter),
			upstream.WithTimeout(config.Timeout()),
		}
		if userAgent != "" {
			clientOpts = append(clientOpts, upstream.WithUserAgent(userAgent))
		}
		if key := config.APIKey(); key != "" {
			clientOpts = append(clientOpts, authHeader(name, key))
		} else if config.APIKeyEnv != "" {
			slog.Warn("Connector API key is not set", "connector", name, "env", config.APIKeyEnv)
		}
		client := upstream.New(name, config.BaseURL, append(clientOpts, opts...)...)

		conn, err := newConnector(name, client, config.Settings.PageSize)
		if err != nil {
			return nil, err
		}

		r.entries[name] = &Entry{
			Connector: conn,
			Aggregator: feed.NewAggregator(
				feed.WithBatchSize(config.Settings.BatchSize),
				feed.WithMaxPages(config.Settings.MaxPages),
			),
			Limiter: limiter,
			Config:  config,
		}
		r.names = append(r.names, name)
	}

	return r, nil
}

func newConnector(name string, client *upstream.Client, pageSize int) (feed.Connector, error) {
	switch name {
	case farcaster.Name:
		return farcaster.New(client, pageSize), nil
	case bluesky.Name:
		return bluesky.New(client, pageSize), nil
	case rss.Name:
		return rss.New(client), nil
	case git.Name:
		return git.New(client, pageSize), nil
	default:
		return nil, fmt.Errorf("unknown connector %q", name)
	}
}

func authHeader(name, key string) upstream.Option {
	switch name {
	case farcaster.Name:
		return upstream.WithHeader("x-api-key", key)
	default:
		return upstream.WithHeader("Authorization", "Bearer "+key)
	}
}

// Get returns the entry for name or an error wrapping feed.ErrNotFound.
func (r *Registry) Get(name string) (*Entry, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: connector %q", feed.ErrNotFound, name)
	}
	return entry, nil
}

// Names lists the enabled connectors in sorted order.
func (r *Registry) Names() []string {
	return r.names
}

// Stats reports each connector's rate limit windows.
func (r *Registry) Stats() map[string]ratelimit.Stats {
	stats := make(map[string]ratelimit.Stats, len(r.entries))
	for name, entry := range r.entries {
		stats[name] = entry.Limiter.Stats()
	}
	return stats
}
