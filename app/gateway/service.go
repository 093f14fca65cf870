// Package gateway serves fetches and estimates: it resolves identifiers
// through the identity caches, prices requests and runs the aggregator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/feedgate/app/cache"
	"github.com/lysyi3m/feedgate/app/connectors"
	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/metrics"
	"github.com/lysyi3m/feedgate/app/pricing"
)

const (
	DefaultIdentityTTL    = 24 * time.Hour
	DefaultEstimateTTL    = 5 * time.Minute
	DefaultRequestTimeout = 60 * time.Second
)

// IdentityStore is the durable level behind the in-process identity cache.
type IdentityStore interface {
	GetIdentity(ctx context.Context, connector, handle string, notBefore time.Time) (*feed.Entity, time.Time, error)
	SaveIdentity(ctx context.Context, connector, handle string, entity feed.Entity, resolvedAt time.Time) error
}

type Config struct {
	IdentityTTL    time.Duration
	EstimateTTL    time.Duration
	RequestTimeout time.Duration
	CacheSize      int
}

type Service struct {
	registry   *connectors.Registry
	classifier *pricing.Classifier
	store      IdentityStore
	entities   *cache.TTL[feed.Entity]
	estimates  *cache.Layered[pricing.Quote]
	cfg        Config
	now        func() time.Time
}

type Option func(*Service)

// WithIdentityStore persists resolved identities across restarts.
func WithIdentityStore(store IdentityStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithEstimateStore shares estimates between instances.
func WithEstimateStore(store cache.Store) Option {
	return func(s *Service) {
		s.estimates = cache.NewLayered(s.estimates.Local(), store)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(registry *connectors.Registry, classifier *pricing.Classifier, cfg Config, opts ...Option) (*Service, error) {
	if cfg.IdentityTTL <= 0 {
		cfg.IdentityTTL = DefaultIdentityTTL
	}
	if cfg.EstimateTTL <= 0 {
		cfg.EstimateTTL = DefaultEstimateTTL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Service{
		registry:   registry,
		classifier: classifier,
		cfg:        cfg,
		now:        time.Now,
	}

	var cacheOpts []cache.Option
	if cfg.CacheSize > 0 {
		cacheOpts = append(cacheOpts, cache.WithSize(cfg.CacheSize))
	}
	cacheOpts = append(cacheOpts,
		cache.WithClock(func() time.Time { return s.now() }),
		cache.WithComputeTimeout(cfg.RequestTimeout),
	)

	entities, err := cache.NewTTL[feed.Entity](cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	estimates, err := cache.NewTTL[pricing.Quote](cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimate cache: %w", err)
	}
	s.entities = entities
	s.estimates = cache.NewLayered(estimates, nil)

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Service) Registry() *connectors.Registry {
	return s.registry
}

func (s *Service) Classifier() *pricing.Classifier {
	return s.classifier
}

// Prepare fills defaults and validates params for connector.
func (s *Service) Prepare(connector string, params feed.RequestParams) (feed.RequestParams, error) {
	if _, err := s.registry.Get(connector); err != nil {
		return params, err
	}
	if err := s.classifier.Validate(connector, params); err != nil {
		return params, err
	}
	return s.classifier.Defaults(connector, params), nil
}

// Resolve maps an identifier to its entity, consulting the in-process cache,
// then the identity store, then the connector.
func (s *Service) Resolve(ctx context.Context, connector, identifier string) (feed.Entity, error) {
	entry, err := s.registry.Get(connector)
	if err != nil {
		return feed.Entity{}, err
	}

	identifier = feed.NormalizeIdentifier(identifier)
	if identifier == "" {
		return feed.Entity{}, feed.InvalidParameter("identifier is required")
	}

	key := connector + "|" + identifier
	_, hit := s.entities.Get(key)
	metrics.RecordCacheLookup("identity", hit)

	return s.entities.ResolveExpiring(ctx, key, func(ctx context.Context) (feed.Entity, time.Duration, error) {
		if s.store != nil {
			stored, resolvedAt, err := s.store.GetIdentity(ctx, connector, identifier, s.now().Add(-s.cfg.IdentityTTL))
			if err != nil {
				slog.Warn("Identity store lookup failed", "connector", connector, "identifier", identifier, "error", err)
			} else if stored != nil {
				// Stored identities keep only what is left of their lifetime.
				if remaining := resolvedAt.Add(s.cfg.IdentityTTL).Sub(s.now()); remaining > 0 {
					return *stored, remaining, nil
				}
			}
		}

		entity, err := entry.Connector.ResolveIdentifier(ctx, identifier)
		if err != nil {
			return feed.Entity{}, 0, err
		}

		slog.Debug("Identifier resolved", "connector", connector, "identifier", identifier, "entity", entity.ID)

		if s.store != nil {
			if err := s.store.SaveIdentity(ctx, connector, identifier, entity, s.now()); err != nil {
				slog.Warn("Failed to save identity", "connector", connector, "identifier", identifier, "error", err)
			}
		}
		return entity, s.cfg.IdentityTTL, nil
	})
}

// Fetch runs a request end to end under the request timeout. On timeout the
// partial result is discarded and the error wraps feed.ErrTimeout.
func (s *Service) Fetch(ctx context.Context, connector string, params feed.RequestParams) (*feed.Result, error) {
	params, err := s.Prepare(connector, params)
	if err != nil {
		return nil, err
	}
	entry, err := s.registry.Get(connector)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	entity, err := s.Resolve(ctx, connector, params.Identifier)
	if err != nil {
		metrics.RecordFeedRequest(connector, outcome(err), 0)
		return nil, timeoutError(ctx, err)
	}

	items, err := entry.Aggregator.Run(ctx, entry.Connector, entity, params)
	if err != nil {
		metrics.RecordFeedRequest(connector, outcome(err), 0)
		return nil, timeoutError(ctx, err)
	}

	metrics.RecordFeedRequest(connector, "ok", len(items))
	slog.Info("Feed fetched", "connector", connector, "entity", entity.ID, "items", len(items))

	return &feed.Result{
		Connector: connector,
		Entity:    entity,
		Items:     items,
		Params:    params,
		FetchedAt: s.now().UTC(),
	}, nil
}

// Estimate prices a request. Paid requests resolve the identifier so the
// provider's item count can bound the price; quotes are cached by fingerprint.
func (s *Service) Estimate(ctx context.Context, connector string, params feed.RequestParams) (pricing.Quote, error) {
	params, err := s.Prepare(connector, params)
	if err != nil {
		return pricing.Quote{}, err
	}

	fingerprint := s.classifier.Fingerprint(connector, params)
	_, hit := s.estimates.Local().Get(fingerprint)
	metrics.RecordCacheLookup("estimate", hit)

	return s.estimates.Resolve(ctx, fingerprint, s.cfg.EstimateTTL, func(ctx context.Context) (pricing.Quote, error) {
		if s.classifier.IsFreeTier(connector, params) {
			return s.classifier.Estimate(connector, params, nil), nil
		}

		ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()

		entity, err := s.Resolve(ctx, connector, params.Identifier)
		if err != nil {
			return pricing.Quote{}, timeoutError(ctx, err)
		}
		return s.classifier.Estimate(connector, params, entity.ItemCount), nil
	})
}

// SweepCaches drops expired identities and estimates and returns how many went.
func (s *Service) SweepCaches() int {
	return s.entities.Purge() + s.estimates.Local().Purge()
}

func (s *Service) CacheStats() map[string]int {
	return map[string]int{
		"identities": s.entities.Len(),
		"estimates":  s.estimates.Local().Len(),
	}
}

func timeoutError(ctx context.Context, err error) error {
	if errors.Is(err, feed.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", feed.ErrTimeout, err)
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		return "not_found"
	case errors.Is(err, feed.ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, feed.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, feed.ErrHistoryTooLong):
		return "too_long"
	default:
		return "error"
	}
}
