package pricing

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/feedgate/app/feed"
)

func TestIsFreeTierScenarios(t *testing.T) {
	classifier := NewClassifier(Default())

	tests := []struct {
		name   string
		params feed.RequestParams
		free   bool
	}{
		{"limit at cap", feed.RequestParams{Identifier: "alice", Limit: 10}, true},
		{"limit at cap with replies", feed.RequestParams{Identifier: "alice", Limit: 10, IncludeReplies: true}, false},
		{"limit over cap", feed.RequestParams{Identifier: "alice", Limit: 11}, false},
		{"all", feed.RequestParams{Identifier: "alice", All: true}, false},
		{"default limit", feed.RequestParams{Identifier: "alice"}, true},
		{"parents", feed.RequestParams{Identifier: "alice", Limit: 5, IncludeParents: true}, false},
		{"content", feed.RequestParams{Identifier: "alice", Limit: 5, IncludeContent: true}, false},
		{"reactions are free", feed.RequestParams{Identifier: "alice", Limit: 5, IncludeReactions: true}, true},
		{"sort does not matter", feed.RequestParams{Identifier: "alice", Limit: 5, SortOrder: feed.SortOldest}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.free, classifier.IsFreeTier("farcaster", tt.params))
		})
	}
}

func TestClassifyReportsFirstFailingRule(t *testing.T) {
	classifier := NewClassifier(Default())

	decision := classifier.Classify("farcaster", feed.RequestParams{Identifier: "alice", Limit: 50, IncludeReplies: true})
	assert.False(t, decision.Free)
	assert.Equal(t, "limit 50 exceeds free cap 10", decision.Reason)

	decision = classifier.Classify("farcaster", feed.RequestParams{Identifier: "alice", All: true, IncludeReplies: true})
	assert.Equal(t, "all is not included in the free tier", decision.Reason)

	decision = classifier.Classify("mastodon", feed.RequestParams{Identifier: "alice", Limit: 1})
	assert.False(t, decision.Free)
	assert.Contains(t, decision.Reason, "mastodon")
}

func TestIsFreeTierPerConnectorTables(t *testing.T) {
	classifier := NewClassifier(Default())

	assert.True(t, classifier.IsFreeTier("rss", feed.RequestParams{Identifier: "https://example.com/feed.xml", Limit: 20}))
	assert.False(t, classifier.IsFreeTier("rss", feed.RequestParams{Identifier: "https://example.com/feed.xml", Limit: 20, IncludeContent: true}))
	assert.True(t, classifier.IsFreeTier("git", feed.RequestParams{Identifier: "golang/go", Limit: 10, IncludeContent: true}))
	assert.False(t, classifier.IsFreeTier("git", feed.RequestParams{Identifier: "golang/go", Limit: 10, IncludeParents: true}))
}

func TestFingerprint(t *testing.T) {
	classifier := NewClassifier(Default())

	fp := classifier.Fingerprint("farcaster", feed.RequestParams{Identifier: "alice", Limit: 25, IncludeReplies: true, IncludeContent: true})
	assert.Equal(t, "farcaster|alice|25|1001", fp)

	fp = classifier.Fingerprint("bluesky", feed.RequestParams{Identifier: "alice.bsky.social", All: true, Limit: 7, IncludeParents: true, IncludeReactions: true})
	assert.Equal(t, "bluesky|alice.bsky.social|all|0110", fp)
}

func TestFingerprintFillsDefaults(t *testing.T) {
	classifier := NewClassifier(Default())

	equivalent := []feed.RequestParams{
		{Identifier: "alice"},
		{Identifier: "alice", Limit: 10},
		{Identifier: "@Alice", SortOrder: feed.SortNewest},
		{Identifier: " ALICE ", Limit: 10, SortOrder: feed.SortOldest},
	}

	expected := classifier.Fingerprint("farcaster", equivalent[0])
	assert.Equal(t, "farcaster|alice|10|0000", expected)
	for _, p := range equivalent[1:] {
		assert.Equal(t, expected, classifier.Fingerprint("farcaster", p), "params %+v", p)
	}

	assert.NotEqual(t, expected, classifier.Fingerprint("farcaster", feed.RequestParams{Identifier: "alice", Limit: 11}))
	assert.NotEqual(t, expected, classifier.Fingerprint("bluesky", feed.RequestParams{Identifier: "alice"}))
}

// paramGrid enumerates every combination the rule tables distinguish.
func paramGrid() []feed.RequestParams {
	var grid []feed.RequestParams
	for _, limit := range []int{0, 1, 9, 10, 11, 20, 21, 100} {
		for mask := 0; mask < 64; mask++ {
			p := feed.RequestParams{
				Identifier:       "alice",
				Limit:            limit,
				All:              mask&1 != 0,
				IncludeReplies:   mask&2 != 0,
				IncludeParents:   mask&4 != 0,
				IncludeReactions: mask&8 != 0,
				IncludeContent:   mask&16 != 0,
			}
			if mask&32 != 0 {
				p.SortOrder = feed.SortOldest
			}
			grid = append(grid, p)
		}
	}
	return grid
}

func TestClientServerAgreement(t *testing.T) {
	server := NewClassifier(Default())

	// The client works from the tables the server publishes at /pricing.
	published, err := json.Marshal(server.Tables())
	require.NoError(t, err)
	var synced Tables
	require.NoError(t, json.Unmarshal(published, &synced))
	client := NewClassifier(nil)
	require.NoError(t, client.Replace(&synced))

	for _, connector := range server.Tables().Names() {
		for _, p := range paramGrid() {
			// The server only sees what the client put in the URL.
			fetchURL, err := url.Parse(client.BuildURL("https://gate.example.com", connector, p))
			require.NoError(t, err)
			received, err := ParseQuery(fetchURL.Query())
			require.NoError(t, err)

			clientFree := client.IsFreeTier(connector, p)
			serverFree := server.IsFreeTier(connector, received)
			require.Equal(t, clientFree, serverFree, "%s %+v", connector, p)

			require.Equal(t, client.Fingerprint(connector, p), server.Fingerprint(connector, received), "%s %+v", connector, p)

			clientQuote := client.Estimate(connector, p, nil)
			serverQuote := server.Estimate(connector, received, nil)
			require.Equal(t, clientQuote, serverQuote, "%s %+v", connector, p)

			require.Equal(t, clientFree, server.IsFreeTier(connector, p), "classification must be deterministic")
		}
	}
}

func TestEstimate(t *testing.T) {
	classifier := NewClassifier(Default())

	quote := classifier.Estimate("farcaster", feed.RequestParams{Identifier: "alice", Limit: 5}, nil)
	assert.True(t, quote.IsFree)
	assert.Equal(t, int64(0), quote.Price)
	assert.Equal(t, 5, quote.Items)

	quote = classifier.Estimate("farcaster", feed.RequestParams{Identifier: "alice", Limit: 50, IncludeReplies: true}, nil)
	assert.False(t, quote.IsFree)
	assert.Equal(t, int64(7200), quote.Price)
	assert.Equal(t, "USDC", quote.Currency)
	assert.Equal(t, 6, quote.Decimals)
	assert.Equal(t, "farcaster|alice|50|1000", quote.Fingerprint)

	hint := 300
	quote = classifier.Estimate("bluesky", feed.RequestParams{Identifier: "alice", All: true}, &hint)
	assert.Equal(t, 300, quote.Items)
	assert.Equal(t, int64(31000), quote.Price)
	require.NotNil(t, quote.CountHint)
	assert.Equal(t, 300, *quote.CountHint)

	quote = classifier.Estimate("bluesky", feed.RequestParams{Identifier: "alice", All: true}, nil)
	assert.Equal(t, 1000, quote.Items)
	assert.Equal(t, int64(101000), quote.Price)

	small := 3
	quote = classifier.Estimate("git", feed.RequestParams{Identifier: "o/r", Limit: 100}, &small)
	assert.Equal(t, 3, quote.Items)
	assert.Equal(t, int64(1150), quote.Price)
}

func TestValidate(t *testing.T) {
	classifier := NewClassifier(Default())

	assert.NoError(t, classifier.Validate("farcaster", feed.RequestParams{Identifier: "alice"}))
	assert.NoError(t, classifier.Validate("farcaster", feed.RequestParams{Identifier: "alice", All: true, Limit: 5000}))

	err := classifier.Validate("farcaster", feed.RequestParams{Identifier: "  "})
	assert.True(t, errors.Is(err, feed.ErrInvalidParameter))

	err = classifier.Validate("farcaster", feed.RequestParams{Identifier: "alice", Limit: 1001})
	assert.True(t, errors.Is(err, feed.ErrInvalidParameter))

	err = classifier.Validate("farcaster", feed.RequestParams{Identifier: "alice", SortOrder: "sideways"})
	assert.True(t, errors.Is(err, feed.ErrInvalidParameter))

	err = classifier.Validate("mastodon", feed.RequestParams{Identifier: "alice"})
	assert.True(t, errors.Is(err, feed.ErrNotFound))
}

func TestBuildURL(t *testing.T) {
	classifier := NewClassifier(Default())

	assert.Equal(t, "https://gate.example.com/feeds/farcaster?q=alice",
		classifier.BuildURL("https://gate.example.com/", "farcaster", feed.RequestParams{Identifier: "@Alice", Limit: 10}))

	assert.Equal(t, "https://gate.example.com/feeds/bluesky?all=true&parents=true&q=alice.bsky.social&sort=oldest",
		classifier.BuildURL("https://gate.example.com", "bluesky", feed.RequestParams{
			Identifier:     "alice.bsky.social",
			All:            true,
			IncludeParents: true,
			SortOrder:      feed.SortOldest,
		}))

	assert.Equal(t, "https://gate.example.com/feeds/rss?limit=5&q=https%3A%2F%2Fexample.com%2Ffeed.xml",
		classifier.BuildURL("https://gate.example.com", "rss", feed.RequestParams{Identifier: "https://example.com/feed.xml", Limit: 5}))
}

func TestParseQuery(t *testing.T) {
	p, err := ParseQuery(url.Values{
		"q":         {"alice"},
		"limit":     {"25"},
		"replies":   {"1"},
		"reactions": {"true"},
		"sort":      {"OLDEST"},
	})
	require.NoError(t, err)
	assert.Equal(t, feed.RequestParams{
		Identifier:       "alice",
		Limit:            25,
		IncludeReplies:   true,
		IncludeReactions: true,
		SortOrder:        feed.SortOldest,
	}, p)

	invalid := []url.Values{
		{"limit": {"ten"}},
		{"limit": {"-1"}},
		{"all": {"maybe"}},
		{"sort": {"random"}},
	}
	for _, query := range invalid {
		_, err := ParseQuery(query)
		assert.True(t, errors.Is(err, feed.ErrInvalidParameter), "query %v", query)
	}
}

func TestLoadOverride(t *testing.T) {
	tempDir := t.TempDir()

	content := `
version: 2
connectors:
  farcaster:
    default_limit: 5
    free_tier:
      - field: limit
        max: 5
    price:
      base: 10
      per_item: 1
`
	path := filepath.Join(tempDir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tables, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, tables.Version)
	assert.Equal(t, "USDC", tables.Currency)
	assert.Equal(t, []string{"farcaster"}, tables.Names())

	classifier := NewClassifier(tables)
	assert.True(t, classifier.IsFreeTier("farcaster", feed.RequestParams{Identifier: "alice", All: true}))
	assert.Equal(t, "farcaster|alice|5|0000", classifier.Fingerprint("farcaster", feed.RequestParams{Identifier: "alice"}))

	tables, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"bluesky", "farcaster", "git", "rss"}, tables.Names())
}

func TestParseInvalidRules(t *testing.T) {
	tests := map[string]string{
		"no connectors":      `version: 1`,
		"missing default":    "connectors:\n  x:\n    max_limit: 5\n",
		"unknown field":      "connectors:\n  x:\n    default_limit: 5\n    free_tier:\n      - field: colour\n        allow: false\n",
		"limit without max":  "connectors:\n  x:\n    default_limit: 5\n    free_tier:\n      - field: limit\n",
		"flag without allow": "connectors:\n  x:\n    default_limit: 5\n    free_tier:\n      - field: replies\n",
		"negative price":     "connectors:\n  x:\n    default_limit: 5\n    price:\n      base: -1\n",
		"bad surcharge":      "connectors:\n  x:\n    default_limit: 5\n    price:\n      surcharges:\n        all: 5\n",
		"not yaml":           "connectors: [",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRulesAreEmbedded(t *testing.T) {
	assert.True(t, strings.Contains(string(defaultRules), "farcaster"))
	assert.NotPanics(t, func() { Default() })
}
