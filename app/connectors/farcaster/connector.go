// Package farcaster reads casts through the Neynar v2 API.
package farcaster

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
)

const (
	Name = "farcaster"

	DefaultBaseURL = "https://api.neynar.com"
	MaxPageSize    = 150

	profileURL = "https://warpcast.com"
)

type Connector struct {
	client   *upstream.Client
	pageSize int
}

// New returns a connector using client for all calls. pageSize is clamped to
// the provider maximum, which is also the default.
func New(client *upstream.Client, pageSize int) *Connector {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Connector{client: client, pageSize: pageSize}
}

func (c *Connector) Name() string {
	return Name
}

// ResolveIdentifier accepts a username or a numeric fid.
func (c *Connector) ResolveIdentifier(ctx context.Context, handle string) (feed.Entity, error) {
	if handle == "" {
		return feed.Entity{}, feed.InvalidParameter("farcaster username is required")
	}

	var u *user
	if fid, err := strconv.ParseInt(handle, 10, 64); err == nil {
		var resp bulkUsersResponse
		if _, err := c.client.GetJSON(ctx, upstream.Call{
			Path:  "/v2/farcaster/user/bulk",
			Query: url.Values{"fids": {strconv.FormatInt(fid, 10)}},
		}, &resp); err != nil {
			return feed.Entity{}, err
		}
		if len(resp.Users) == 0 {
			return feed.Entity{}, fmt.Errorf("%w: farcaster fid %d", feed.ErrNotFound, fid)
		}
		u = &resp.Users[0]
	} else {
		var resp userResponse
		if _, err := c.client.GetJSON(ctx, upstream.Call{
			Path:  "/v2/farcaster/user/by_username",
			Query: url.Values{"username": {handle}},
		}, &resp); err != nil {
			return feed.Entity{}, err
		}
		if resp.User == nil {
			return feed.Entity{}, fmt.Errorf("%w: farcaster user %s", feed.ErrNotFound, handle)
		}
		u = resp.User
	}

	if u.FID <= 0 {
		return feed.Entity{}, feed.Malformed(Name, "user.fid")
	}
	if u.Username == "" {
		return feed.Entity{}, feed.Malformed(Name, "user.username")
	}

	return feed.Entity{
		ID:          strconv.FormatInt(u.FID, 10),
		Handle:      u.Username,
		DisplayName: u.DisplayName,
		Description: u.Profile.Bio.Text,
		URL:         profileURL + "/" + u.Username,
	}, nil
}

func (c *Connector) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	query := url.Values{
		"fid":             {req.EntityID},
		"limit":           {strconv.Itoa(c.pageSize)},
		"include_replies": {strconv.FormatBool(req.IncludeReplies)},
	}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}

	var resp castsResponse
	if _, err := c.client.GetJSON(ctx, upstream.Call{
		Path:  "/v2/farcaster/feed/user/casts",
		Query: query,
	}, &resp); err != nil {
		return feed.Page{}, err
	}

	items := make([]feed.Item, 0, len(resp.Casts))
	for _, raw := range resp.Casts {
		item, err := c.toItem(raw, req.IncludeReactions, req.IncludeContent)
		if err != nil {
			return feed.Page{}, err
		}
		items = append(items, item)
	}

	page := feed.Page{Items: items}
	if resp.Next != nil && resp.Next.Cursor != nil {
		page.NextCursor = *resp.Next.Cursor
	}
	return page, nil
}

// FetchOne looks a cast up by hash. Parents are returned with reactions and
// embeds so they render like the items that reference them.
func (c *Connector) FetchOne(ctx context.Context, entity feed.Entity, itemID string) (*feed.Item, error) {
	var resp castResponse
	_, err := c.client.GetJSON(ctx, upstream.Call{
		Path:  "/v2/farcaster/cast",
		Query: url.Values{"identifier": {itemID}, "type": {"hash"}},
	}, &resp)
	if errors.Is(err, feed.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if resp.Cast == nil {
		return nil, nil
	}

	item, err := c.toItem(*resp.Cast, true, true)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Connector) toItem(raw cast, withReactions, withEmbeds bool) (feed.Item, error) {
	if raw.Hash == "" {
		return feed.Item{}, feed.Malformed(Name, "cast.hash")
	}
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return feed.Item{}, feed.Malformed(Name, "cast.timestamp")
	}

	item := feed.Item{
		ID:        raw.Hash,
		Author:    raw.Author.Username,
		Body:      raw.Text,
		Timestamp: ts.UTC(),
		URL:       castURL(raw.Author.Username, raw.Hash),
	}
	if raw.ParentHash != nil {
		item.ParentID = *raw.ParentHash
	}

	if withReactions {
		item.Reactions = &feed.Reactions{
			Likes:   raw.Reactions.LikesCount,
			Reposts: raw.Reactions.RecastsCount,
			Replies: raw.Replies.Count,
		}
	}

	if withEmbeds {
		for _, embed := range raw.Embeds {
			switch {
			case embed.URL != "":
				item.Embeds = append(item.Embeds, embed.URL)
			case embed.Cast != nil && embed.Cast.Hash != "":
				item.Embeds = append(item.Embeds, embed.Cast.Hash)
			}
		}
	}

	return item, nil
}

func castURL(username, hash string) string {
	short := hash
	if len(short) > 10 {
		short = short[:10]
	}
	return fmt.Sprintf("%s/%s/%s", profileURL, username, short)
}
