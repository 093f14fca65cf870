package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lysyi3m/feedgate/app/feed"
)

// Decision is the outcome of free-tier classification. Reason names the
// first rule that failed.
type Decision struct {
	Free   bool   `json:"free"`
	Reason string `json:"reason,omitempty"`
}

// Quote is the price of one request.
type Quote struct {
	Connector   string `json:"connector"`
	Price       int64  `json:"price"`
	IsFree      bool   `json:"is_free"`
	CountHint   *int   `json:"count_hint"`
	Items       int    `json:"items"`
	Fingerprint string `json:"fingerprint"`
	Currency    string `json:"currency"`
	Decimals    int    `json:"decimals"`
	Reason      string `json:"reason,omitempty"`
}

// Classifier evaluates requests against a set of rule tables. It has no
// network access and identical inputs always give identical results.
type Classifier struct {
	tables *Tables
	mu     sync.RWMutex
}

func NewClassifier(tables *Tables) *Classifier {
	if tables == nil {
		tables = Default()
	}
	return &Classifier{tables: tables}
}

func (c *Classifier) Tables() *Tables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables
}

// Replace swaps the rule tables, e.g. after syncing them from a server.
func (c *Classifier) Replace(tables *Tables) error {
	if err := tables.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()
	return nil
}

// Defaults fills omitted values: a normalized identifier, the connector's
// default limit and newest-first ordering.
func (c *Classifier) Defaults(connector string, p feed.RequestParams) feed.RequestParams {
	p = p.Normalize()
	if p.Limit <= 0 {
		if table := c.Tables().Table(connector); table != nil {
			p.Limit = table.DefaultLimit
		}
	}
	return p
}

// Validate checks request parameters against the connector's table. It is the
// server's boundary check and runs on defaults-filled params.
func (c *Classifier) Validate(connector string, p feed.RequestParams) error {
	table := c.Tables().Table(connector)
	if table == nil {
		return fmt.Errorf("%w: unknown connector %q", feed.ErrNotFound, connector)
	}

	p = c.Defaults(connector, p)
	if p.Identifier == "" {
		return feed.InvalidParameter("identifier is required")
	}
	if p.Limit < 0 {
		return feed.InvalidParameter("limit must be positive")
	}
	if !p.All && table.MaxLimit > 0 && p.Limit > table.MaxLimit {
		return feed.InvalidParameter("limit %d exceeds maximum %d", p.Limit, table.MaxLimit)
	}
	if p.SortOrder != feed.SortNewest && p.SortOrder != feed.SortOldest {
		return feed.InvalidParameter("sort must be %q or %q", feed.SortNewest, feed.SortOldest)
	}
	return nil
}

func (c *Classifier) Classify(connector string, p feed.RequestParams) Decision {
	table := c.Tables().Table(connector)
	if table == nil {
		return Decision{Free: false, Reason: fmt.Sprintf("no pricing rules for connector %s", connector)}
	}

	p = c.Defaults(connector, p)
	for _, rule := range table.FreeTier {
		if ok, reason := c.applyRule(rule, p); !ok {
			return Decision{Free: false, Reason: reason}
		}
	}
	return Decision{Free: true}
}

func (c *Classifier) IsFreeTier(connector string, p feed.RequestParams) bool {
	return c.Classify(connector, p).Free
}

func (c *Classifier) applyRule(rule Rule, p feed.RequestParams) (bool, string) {
	if rule.Field == FieldLimit {
		if p.All || rule.Max == nil {
			return true, ""
		}
		if p.Limit > *rule.Max {
			return false, fmt.Sprintf("limit %d exceeds free cap %d", p.Limit, *rule.Max)
		}
		return true, ""
	}

	if rule.Allow == nil || *rule.Allow {
		return true, ""
	}
	if fieldValue(p, rule.Field) {
		return false, fmt.Sprintf("%s is not included in the free tier", rule.Field)
	}
	return true, ""
}

func fieldValue(p feed.RequestParams, field string) bool {
	switch field {
	case FieldAll:
		return p.All
	case FieldReplies:
		return p.IncludeReplies
	case FieldParents:
		return p.IncludeParents
	case FieldReactions:
		return p.IncludeReactions
	case FieldContent:
		return p.IncludeContent
	default:
		return false
	}
}

// Fingerprint builds connector|identifier|count-or-all|flags from the
// defaults-filled, price-relevant params. Flags are replies, parents,
// reactions and content as 1 or 0. Sort order does not affect price.
func (c *Classifier) Fingerprint(connector string, p feed.RequestParams) string {
	p = c.Defaults(connector, p)

	count := strconv.Itoa(p.Limit)
	if p.All {
		count = "all"
	}

	var flags strings.Builder
	for _, field := range flagFields {
		if fieldValue(p, field) {
			flags.WriteByte('1')
		} else {
			flags.WriteByte('0')
		}
	}

	return strings.Join([]string{connector, p.Identifier, count, flags.String()}, "|")
}

// Estimate prices a request. countHint is the entity's total item count when
// the provider reports it; it bounds the billed count and prices "all".
func (c *Classifier) Estimate(connector string, p feed.RequestParams, countHint *int) Quote {
	tables := c.Tables()
	p = c.Defaults(connector, p)
	decision := c.Classify(connector, p)

	quote := Quote{
		Connector:   connector,
		IsFree:      decision.Free,
		CountHint:   countHint,
		Fingerprint: c.Fingerprint(connector, p),
		Currency:    tables.Currency,
		Decimals:    tables.Decimals,
		Reason:      decision.Reason,
	}

	table := tables.Table(connector)
	if table == nil {
		return quote
	}

	items := p.Limit
	switch {
	case p.All && countHint != nil:
		items = *countHint
	case p.All:
		items = table.Price.AllCountFallback
	case countHint != nil && *countHint < items:
		items = *countHint
	}
	quote.Items = items

	if decision.Free {
		return quote
	}

	surcharge := 0
	for _, field := range flagFields {
		if fieldValue(p, field) {
			surcharge += table.Price.Surcharges[field]
		}
	}

	price := table.Price.Base + int64(items)*table.Price.PerItem
	quote.Price = price * int64(100+surcharge) / 100

	return quote
}
