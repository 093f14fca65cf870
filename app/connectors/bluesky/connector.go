// Package bluesky reads posts through the public AppView XRPC API.
package bluesky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
)

const (
	Name = "bluesky"

	DefaultBaseURL = "https://public.api.bsky.app"
	MaxPageSize    = 100

	profileURL = "https://bsky.app/profile"
)

type Connector struct {
	client   *upstream.Client
	pageSize int
}

func New(client *upstream.Client, pageSize int) *Connector {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Connector{client: client, pageSize: pageSize}
}

func (c *Connector) Name() string {
	return Name
}

// ResolveIdentifier accepts a handle or a DID. The profile's postsCount is
// reported as the entity's item count.
func (c *Connector) ResolveIdentifier(ctx context.Context, handle string) (feed.Entity, error) {
	if handle == "" {
		return feed.Entity{}, feed.InvalidParameter("bluesky handle is required")
	}

	did := handle
	if !strings.HasPrefix(handle, "did:") {
		var resolved resolveHandleResponse
		_, err := c.client.GetJSON(ctx, upstream.Call{
			Path:  "/xrpc/com.atproto.identity.resolveHandle",
			Query: url.Values{"handle": {handle}},
		}, &resolved)
		if err != nil {
			return feed.Entity{}, notFoundOnBadRequest(err, handle)
		}
		if resolved.DID == "" {
			return feed.Entity{}, feed.Malformed(Name, "did")
		}
		did = resolved.DID
	}

	var profile profileResponse
	_, err := c.client.GetJSON(ctx, upstream.Call{
		Path:  "/xrpc/app.bsky.actor.getProfile",
		Query: url.Values{"actor": {did}},
	}, &profile)
	if err != nil {
		return feed.Entity{}, notFoundOnBadRequest(err, handle)
	}
	if profile.DID == "" {
		return feed.Entity{}, feed.Malformed(Name, "profile.did")
	}

	return feed.Entity{
		ID:          profile.DID,
		Handle:      profile.Handle,
		DisplayName: profile.DisplayName,
		Description: profile.Description,
		URL:         profileURL + "/" + profile.Handle,
		ItemCount:   profile.PostsCount,
	}, nil
}

// FetchPage reads the author feed. Reposts and posts by other authors are
// dropped so every item belongs to the entity.
func (c *Connector) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	filter := "posts_no_replies"
	if req.IncludeReplies {
		filter = "posts_with_replies"
	}
	query := url.Values{
		"actor":  {req.EntityID},
		"limit":  {strconv.Itoa(c.pageSize)},
		"filter": {filter},
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	var resp authorFeedResponse
	if _, err := c.client.GetJSON(ctx, upstream.Call{
		Path:  "/xrpc/app.bsky.feed.getAuthorFeed",
		Query: query,
	}, &resp); err != nil {
		return feed.Page{}, err
	}

	items := make([]feed.Item, 0, len(resp.Feed))
	for _, entry := range resp.Feed {
		if len(entry.Reason) > 0 && string(entry.Reason) != "null" {
			continue
		}
		if entry.Post.Author.DID != "" && entry.Post.Author.DID != req.EntityID {
			continue
		}
		item, err := toItem(entry.Post, req.IncludeReactions, req.IncludeContent)
		if err != nil {
			return feed.Page{}, err
		}
		items = append(items, item)
	}

	return feed.Page{Items: items, NextCursor: resp.Cursor}, nil
}

func (c *Connector) FetchOne(ctx context.Context, entity feed.Entity, itemID string) (*feed.Item, error) {
	var resp postsResponse
	_, err := c.client.GetJSON(ctx, upstream.Call{
		Path:  "/xrpc/app.bsky.feed.getPosts",
		Query: url.Values{"uris": {itemID}},
	}, &resp)
	if errors.Is(err, feed.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(resp.Posts) == 0 {
		return nil, nil
	}

	item, err := toItem(resp.Posts[0], true, true)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func toItem(post postView, withReactions, withEmbeds bool) (feed.Item, error) {
	if post.URI == "" {
		return feed.Item{}, feed.Malformed(Name, "post.uri")
	}
	ts, err := time.Parse(time.RFC3339, post.Record.CreatedAt)
	if err != nil {
		return feed.Item{}, feed.Malformed(Name, "post.record.createdAt")
	}

	item := feed.Item{
		ID:        post.URI,
		Author:    post.Author.Handle,
		Body:      post.Record.Text,
		Timestamp: ts.UTC(),
		URL:       postURL(post.Author.Handle, post.URI),
	}
	if post.Record.Reply != nil {
		item.ParentID = post.Record.Reply.Parent.URI
	}

	if withReactions {
		item.Reactions = &feed.Reactions{
			Likes:   post.LikeCount,
			Reposts: post.RepostCount,
			Replies: post.ReplyCount,
		}
	}
	if withEmbeds {
		item.Embeds = embedURLs(post.Embed)
	}

	return item, nil
}

func embedURLs(embed *embedView) []string {
	if embed == nil {
		return nil
	}

	var urls []string
	for _, image := range embed.Images {
		if image.Fullsize != "" {
			urls = append(urls, image.Fullsize)
		}
	}
	if embed.External != nil && embed.External.URI != "" {
		urls = append(urls, embed.External.URI)
	}
	if embed.Record != nil && embed.Record.URI != "" {
		urls = append(urls, embed.Record.URI)
	}
	return append(urls, embedURLs(embed.Media)...)
}

// postURL maps at://did/app.bsky.feed.post/rkey to the web URL.
func postURL(handle, uri string) string {
	rkey := uri[strings.LastIndex(uri, "/")+1:]
	if handle == "" || rkey == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/post/%s", profileURL, handle, rkey)
}

// XRPC answers unknown actors with 400 rather than 404.
func notFoundOnBadRequest(err error, handle string) error {
	if upstream.IsStatus(err, http.StatusBadRequest) {
		return fmt.Errorf("%w: bluesky actor %s", feed.ErrNotFound, handle)
	}
	return err
}
