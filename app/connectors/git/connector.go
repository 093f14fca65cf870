// Package git reads a repository's commit history through the GitHub REST API.
package git

import (
	"cmp"
	"context"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
)

const (
	Name = "git"

	DefaultBaseURL = "https://api.github.com"
	MaxPageSize    = 100

	acceptJSON = "application/vnd.github+json"
)

var (
	repoPattern = regexp.MustCompile(`(?i)^[a-z0-9_.-]+/[a-z0-9_.-]+$`)
	nextLink    = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)
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

// ResolveIdentifier accepts "owner/repo" or a github.com repository URL.
func (c *Connector) ResolveIdentifier(ctx context.Context, handle string) (feed.Entity, error) {
	slug, err := repoSlug(handle)
	if err != nil {
		return feed.Entity{}, err
	}

	var repo repository
	if _, err := c.client.GetJSON(ctx, upstream.Call{
		Endpoint: "/repos/{owner}/{repo}",
		Path:     "/repos/" + slug,
		Accept:   acceptJSON,
	}, &repo); err != nil {
		return feed.Entity{}, err
	}
	if repo.FullName == "" {
		return feed.Entity{}, feed.Malformed(Name, "repository.full_name")
	}

	return feed.Entity{
		ID:          repo.FullName,
		Handle:      slug,
		DisplayName: repo.FullName,
		Description: repo.Description,
		URL:         repo.HTMLURL,
	}, nil
}

// FetchPage lists commits newest first. The cursor is the next page number
// taken from the Link header.
func (c *Connector) FetchPage(ctx context.Context, req feed.PageRequest) (feed.Page, error) {
	page := cmp.Or(req.Cursor, "1")
	if n, err := strconv.Atoi(page); err != nil || n < 1 {
		return feed.Page{}, feed.InvalidParameter("invalid git cursor %q", req.Cursor)
	}

	var commits []commit
	resp, err := c.client.GetJSON(ctx, upstream.Call{
		Endpoint: "/repos/{owner}/{repo}/commits",
		Path:     "/repos/" + req.EntityID + "/commits",
		Query:    url.Values{"per_page": {strconv.Itoa(c.pageSize)}, "page": {page}},
		Accept:   acceptJSON,
	}, &commits)
	if err != nil {
		return feed.Page{}, err
	}

	items := make([]feed.Item, 0, len(commits))
	for _, raw := range commits {
		item, err := toItem(raw, req.IncludeContent)
		if err != nil {
			return feed.Page{}, err
		}
		items = append(items, item)
	}

	return feed.Page{
		Items:      items,
		NextCursor: nextPage(resp.Header.Get("Link")),
	}, nil
}

// FetchOne looks a commit up by sha.
func (c *Connector) FetchOne(ctx context.Context, entity feed.Entity, itemID string) (*feed.Item, error) {
	var raw commit
	_, err := c.client.GetJSON(ctx, upstream.Call{
		Endpoint: "/repos/{owner}/{repo}/commits/{sha}",
		Path:     "/repos/" + entity.ID + "/commits/" + url.PathEscape(itemID),
		Accept:   acceptJSON,
	}, &raw)
	if errors.Is(err, feed.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item, err := toItem(raw, true)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// toItem maps a commit. Merge commits carry their first parent as ParentID so
// they are treated as replies.
func toItem(raw commit, withFiles bool) (feed.Item, error) {
	if raw.SHA == "" {
		return feed.Item{}, feed.Malformed(Name, "commit.sha")
	}
	ts, err := time.Parse(time.RFC3339, cmp.Or(raw.Commit.Author.Date, raw.Commit.Committer.Date))
	if err != nil {
		return feed.Item{}, feed.Malformed(Name, "commit.author.date")
	}

	author := raw.Commit.Author.Name
	if raw.Author != nil && raw.Author.Login != "" {
		author = raw.Author.Login
	}

	item := feed.Item{
		ID:        raw.SHA,
		Author:    author,
		Body:      strings.TrimSpace(raw.Commit.Message),
		Timestamp: ts.UTC(),
		URL:       raw.HTMLURL,
	}
	if len(raw.Parents) > 1 {
		item.ParentID = raw.Parents[0].SHA
	}

	if withFiles {
		for _, file := range raw.Files {
			item.Embeds = append(item.Embeds, file.Filename)
		}
	}

	return item, nil
}

func repoSlug(handle string) (string, error) {
	slug := handle
	if strings.Contains(slug, "://") {
		u, err := url.Parse(slug)
		if err != nil || u.Host != "github.com" {
			return "", feed.InvalidParameter("unsupported repository URL %q", handle)
		}
		slug = u.Path
	}
	slug = strings.TrimSuffix(strings.Trim(slug, "/"), ".git")

	if !repoPattern.MatchString(slug) {
		return "", feed.InvalidParameter("repository must be owner/repo, got %q", handle)
	}
	return slug, nil
}

func nextPage(link string) string {
	match := nextLink.FindStringSubmatch(link)
	if match == nil {
		return ""
	}
	u, err := url.Parse(match[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page")
}
