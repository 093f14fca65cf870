package feed

import (
	"context"
)

// Connector is the capability set each provider implements. All outbound
// calls of an implementation go through its rate limiter.
type Connector interface {
	Name() string

	// ResolveIdentifier maps a normalized handle, id or URL to the canonical
	// entity. It returns an error wrapping ErrNotFound when nothing matches.
	ResolveIdentifier(ctx context.Context, handle string) (Entity, error)

	// FetchPage returns one page of items, newest first, always at the
	// provider's maximum page size.
	FetchPage(ctx context.Context, req PageRequest) (Page, error)

	// FetchOne returns a single related item, or nil when it does not exist.
	FetchOne(ctx context.Context, entity Entity, itemID string) (*Item, error)
}

// Enricher is implemented by connectors that can add rich content to items
// after the final item set is known (e.g. full article text for RSS).
type Enricher interface {
	Enrich(ctx context.Context, entity Entity, items []Item) error
}
