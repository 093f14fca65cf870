package feed

import (
	"time"
)

type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
)

// RequestParams are the validated query parameters of a fetch or estimate.
type RequestParams struct {
	Identifier       string    `json:"identifier"`
	Limit            int       `json:"limit,omitempty"`
	All              bool      `json:"all,omitempty"`
	IncludeReplies   bool      `json:"include_replies,omitempty"`
	IncludeParents   bool      `json:"include_parents,omitempty"`
	IncludeReactions bool      `json:"include_reactions,omitempty"`
	IncludeContent   bool      `json:"include_content,omitempty"` // full article text or embeds
	SortOrder        SortOrder `json:"sort_order,omitempty"`
}

// Normalize returns a copy with the identifier normalized and the sort order defaulted.
func (p RequestParams) Normalize() RequestParams {
	p.Identifier = NormalizeIdentifier(p.Identifier)
	if p.SortOrder == "" {
		p.SortOrder = SortNewest
	}
	return p
}

// Entity is the resolved primary entity of a request: a user, a feed or a repository.
type Entity struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	ItemCount   *int   `json:"item_count,omitempty"` // nil when the provider does not report it
}

type Reactions struct {
	Likes   int `json:"likes"`
	Reposts int `json:"reposts"`
	Replies int `json:"replies"`
}

// Item is the provider-agnostic shape of one post, cast, feed entry or commit.
type Item struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	Body      string     `json:"body"`
	Timestamp time.Time  `json:"timestamp"`
	URL       string     `json:"url,omitempty"`
	ParentID  string     `json:"parent_id,omitempty"`
	Parent    *Item      `json:"parent,omitempty"`
	Reactions *Reactions `json:"reactions,omitempty"`
	Embeds    []string   `json:"embeds,omitempty"`
}

func (i Item) IsReply() bool {
	return i.ParentID != ""
}

// Page is one upstream page. An empty NextCursor means there are no more pages.
type Page struct {
	Items      []Item
	NextCursor string
}

// PageRequest carries what a connector needs to fetch one page.
type PageRequest struct {
	EntityID         string
	Cursor           string
	IncludeReplies   bool
	IncludeReactions bool
	IncludeContent   bool
}

// Result is what the server hands to the formatter.
type Result struct {
	Connector string        `json:"connector"`
	Entity    Entity        `json:"entity"`
	Items     []Item        `json:"items"`
	Params    RequestParams `json:"params"`
	FetchedAt time.Time     `json:"fetched_at"`
}
