package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 25
	DefaultMaxPages  = 200
)

// Aggregator drives a Connector across pages until the requested item count
// or cursor exhaustion, then filters, orders, truncates and resolves parents.
type Aggregator struct {
	batchSize int
	maxPages  int
}

type AggregatorOption func(*Aggregator)

// WithBatchSize sets how many parent lookups run concurrently per batch.
func WithBatchSize(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithMaxPages bounds the number of pages followed for one request.
func WithMaxPages(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxPages = n
		}
	}
}

func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		batchSize: DefaultBatchSize,
		maxPages:  DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run returns the final item set for params. Errors from the primary page loop
// abort the request; parent lookups only degrade the affected items. When ctx
// expires the accumulated items are discarded and ErrTimeout is returned. A
// request that needs the full history fails with ErrHistoryTooLong once the
// page limit is hit rather than returning part of it.
func (a *Aggregator) Run(ctx context.Context, conn Connector, entity Entity, params RequestParams) ([]Item, error) {
	if !params.All && params.Limit <= 0 {
		return nil, InvalidParameter("limit must be positive unless all is set")
	}

	items, err := a.collect(ctx, conn, entity, params)
	if err != nil {
		return nil, contextError(ctx, err)
	}

	if params.SortOrder == SortOldest {
		slices.Reverse(items)
	}

	if !params.All && len(items) > params.Limit {
		items = items[:params.Limit]
	}

	if params.IncludeParents {
		if err := a.resolveParents(ctx, conn, entity, items); err != nil {
			return nil, contextError(ctx, err)
		}
	}

	if params.IncludeContent {
		if enricher, ok := conn.(Enricher); ok {
			if err := enricher.Enrich(ctx, entity, items); err != nil {
				return nil, contextError(ctx, err)
			}
		}
	}

	if items == nil {
		items = []Item{}
	}
	return items, nil
}

func (a *Aggregator) collect(ctx context.Context, conn Connector, entity Entity, params RequestParams) ([]Item, error) {
	// Oldest-first needs the full history before the slice is well defined.
	stopEarly := !params.All && params.SortOrder != SortOldest

	var items []Item
	cursor := ""
	for page := 0; page < a.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := conn.FetchPage(ctx, PageRequest{
			EntityID:         entity.ID,
			Cursor:           cursor,
			IncludeReplies:   params.IncludeReplies,
			IncludeReactions: params.IncludeReactions,
			IncludeContent:   params.IncludeContent,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page+1, err)
		}

		for _, item := range p.Items {
			if item.IsReply() && !params.IncludeReplies {
				continue
			}
			items = append(items, item)
		}

		slog.Debug("Page fetched", "connector", conn.Name(), "entity", entity.ID, "page", page+1,
			"page_items", len(p.Items), "kept", len(items))

		if p.NextCursor == "" {
			return items, nil
		}
		if stopEarly && len(items) >= params.Limit {
			return items, nil
		}
		cursor = p.NextCursor
	}

	// all and oldest-first are only correct over the whole history.
	if params.All || params.SortOrder == SortOldest {
		return nil, fmt.Errorf("%w: more than %d pages for %s", ErrHistoryTooLong, a.maxPages, entity.ID)
	}

	slog.Warn("Page limit reached, stopping pagination", "connector", conn.Name(), "entity", entity.ID, "max_pages", a.maxPages)
	return items, nil
}

func (a *Aggregator) resolveParents(ctx context.Context, conn Connector, entity Entity, items []Item) error {
	seen := make(map[string]bool)
	var ids []string
	for _, item := range items {
		if item.ParentID != "" && !seen[item.ParentID] {
			seen[item.ParentID] = true
			ids = append(ids, item.ParentID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	parents := make(map[string]*Item, len(ids))
	for start := 0; start < len(ids); start += a.batchSize {
		batch := ids[start:min(start+a.batchSize, len(ids))]
		results := make([]*Item, len(batch))

		var g errgroup.Group
		for i, id := range batch {
			g.Go(func() error {
				parent, err := conn.FetchOne(ctx, entity, id)
				if err != nil {
					slog.Warn("Parent lookup failed", "connector", conn.Name(), "parent_id", id,
						"error", fmt.Errorf("%w: %w", ErrSecondaryLookup, err))
					return nil
				}
				results[i] = parent
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}

		for i, id := range batch {
			if results[i] != nil {
				parents[id] = results[i]
			}
		}
	}

	for i := range items {
		if parent, ok := parents[items[i].ParentID]; ok {
			items[i].Parent = parent
		}
	}

	slog.Debug("Parents resolved", "connector", conn.Name(), "requested", len(ids), "resolved", len(parents))
	return nil
}

func contextError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
