package pricing

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/lysyi3m/feedgate/app/feed"
)

// Query parameter names shared by BuildURL and ParseQuery.
const (
	ParamIdentifier = "q"
	ParamLimit      = "limit"
	ParamAll        = "all"
	ParamReplies    = "replies"
	ParamParents    = "parents"
	ParamReactions  = "reactions"
	ParamContent    = "content"
	ParamSort       = "sort"
	ParamFormat     = "format"
)

// BuildURL returns the fetch URL for params. Only non-default values are
// written, so equivalent params always produce the same URL.
func (c *Classifier) BuildURL(baseURL, connector string, p feed.RequestParams) string {
	p = c.Defaults(connector, p)

	query := url.Values{}
	query.Set(ParamIdentifier, p.Identifier)
	if p.All {
		query.Set(ParamAll, "true")
	} else if table := c.Tables().Table(connector); table == nil || p.Limit != table.DefaultLimit {
		query.Set(ParamLimit, strconv.Itoa(p.Limit))
	}

	flags := map[string]bool{
		ParamReplies:   p.IncludeReplies,
		ParamParents:   p.IncludeParents,
		ParamReactions: p.IncludeReactions,
		ParamContent:   p.IncludeContent,
	}
	for name, set := range flags {
		if set {
			query.Set(name, "true")
		}
	}
	if p.SortOrder == feed.SortOldest {
		query.Set(ParamSort, string(feed.SortOldest))
	}

	return strings.TrimRight(baseURL, "/") + "/feeds/" + url.PathEscape(connector) + "?" + query.Encode()
}

// ParseQuery reads request params from URL query values. Unknown parameters
// are ignored; malformed values are an ErrInvalidParameter.
func ParseQuery(query url.Values) (feed.RequestParams, error) {
	var p feed.RequestParams
	var err error

	p.Identifier = query.Get(ParamIdentifier)

	if raw := query.Get(ParamLimit); raw != "" {
		p.Limit, err = strconv.Atoi(raw)
		if err != nil || p.Limit <= 0 {
			return p, feed.InvalidParameter("limit must be a positive integer, got %q", raw)
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{ParamAll, &p.All},
		{ParamReplies, &p.IncludeReplies},
		{ParamParents, &p.IncludeParents},
		{ParamReactions, &p.IncludeReactions},
		{ParamContent, &p.IncludeContent},
	}
	for _, b := range bools {
		raw := query.Get(b.name)
		if raw == "" {
			continue
		}
		*b.dst, err = strconv.ParseBool(raw)
		if err != nil {
			return p, feed.InvalidParameter("%s must be a boolean, got %q", b.name, raw)
		}
	}

	switch sort := feed.SortOrder(strings.ToLower(query.Get(ParamSort))); sort {
	case "":
	case feed.SortNewest, feed.SortOldest:
		p.SortOrder = sort
	default:
		return p, feed.InvalidParameter("sort must be %q or %q, got %q", feed.SortNewest, feed.SortOldest, sort)
	}

	return p, nil
}
