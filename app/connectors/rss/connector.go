// Package rss reads RSS, Atom and JSON feeds. The identifier is the feed URL.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
)

const (
	Name = "rss"

	feedAccept    = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"
	articleAccept = "text/html, application/xhtml+xml;q=0.9, */*;q=0.8"

	extractWorkers = 4
)

type Connector struct {
	client    *upstream.Client
	parser    *feed.Parser
	extractor *feed.ContentExtractor
}

func New(client *upstream.Client) *Connector {
	return &Connector{
		client:    client,
		parser:    feed.NewParser(),
		extractor: feed.NewContentExtractor(),
	}
}

func (c *Connector) Name() string {
	return Name
}

func (c *Connector) ResolveIdentifier(ctx context.Context, handle string) (feed.Entity, error) {
	feedURL, err := validateURL(handle)
	if err != nil {
		return feed.Entity{}, err
	}

	metadata, items, err := c.fetch(ctx, feedURL)
	if err != nil {
		return feed.Entity{}, err
	}

	count := len(items)
	return feed.Entity{
		ID:          feedURL.String(),
		Handle:      feedURL.String(),
		DisplayName: metadata.Title,
		Description: metadata.Description,
		URL:         metadata.Link,
		ItemCount:   &count,
	}, nil
}

// FetchPage returns the whole feed, newest first. Feeds have no cursor.
func (c *Connector) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	feedURL, err := validateURL(req.EntityID)
	if err != nil {
		return feed.Page{}, err
	}

	_, items, err := c.fetch(ctx, feedURL)
	if err != nil {
		return feed.Page{}, err
	}

	slices.SortStableFunc(items, func(a, b feed.Item) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	return feed.Page{Items: items}, nil
}

// FetchOne always returns nil: feed entries have no reply parents.
func (c *Connector) FetchOne(ctx context.Context, entity feed.Entity, itemID string) (*feed.Item, error) {
	return nil, nil
}

// Enrich replaces each item's body with the readable text of its article.
// Items whose page cannot be fetched or extracted keep their summary.
func (c *Connector) Enrich(ctx context.Context, entity feed.Entity, items []feed.Item) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractWorkers)

	for i := range items {
		if items[i].URL == "" {
			continue
		}
		g.Go(func() error {
			content, err := c.extract(gctx, items[i].URL)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("Content extraction failed", "connector", Name, "url", items[i].URL,
					"error", fmt.Errorf("%w: %w", feed.ErrSecondaryLookup, err))
				return nil
			}
			items[i].Body = content
			return nil
		})
	}

	return g.Wait()
}

func (c *Connector) fetch(ctx context.Context, feedURL *url.URL) (*feed.Metadata, []feed.Item, error) {
	resp, err := c.client.Get(ctx, upstream.Call{
		Endpoint: feedURL.Host,
		Path:     feedURL.String(),
		Accept:   feedAccept,
	})
	if err != nil {
		return nil, nil, err
	}

	metadata, items, err := c.parser.Run(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", feed.ErrMalformedPayload, Name, err)
	}

	slog.Debug("Feed parsed", "connector", Name, "url", feedURL.String(), "items", len(items))
	return metadata, items, nil
}

func (c *Connector) extract(ctx context.Context, articleURL string) (string, error) {
	u, err := url.Parse(articleURL)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Get(ctx, upstream.Call{
		Endpoint: u.Host,
		Path:     articleURL,
		Accept:   articleAccept,
	})
	if err != nil {
		return "", err
	}

	return c.extractor.Run(resp.Body, u)
}

func validateURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, feed.InvalidParameter("feed URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, feed.InvalidParameter("invalid feed URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, feed.InvalidParameter("feed URL must use http or https: %q", raw)
	}
	if u.Host == "" {
		return nil, feed.InvalidParameter("feed URL has no host: %q", raw)
	}
	return u, nil
}
