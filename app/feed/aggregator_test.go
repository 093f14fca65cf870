package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type mockConnector struct {
	pages     []Page
	parents   map[string]*Item
	failIDs   map[string]bool
	pageDelay time.Duration
	pageErr   error

	mu          sync.Mutex
	pageCalls   int
	fetchOneIDs []string
	inFlight    int
	maxInFlight int
}

func (m *mockConnector) Name() string { return "mock" }

func (m *mockConnector) ResolveIdentifier(ctx context.Context, handle string) (Entity, error) {
	return Entity{ID: handle, Handle: handle}, nil
}

func (m *mockConnector) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	m.mu.Lock()
	m.pageCalls++
	m.mu.Unlock()

	if m.pageDelay > 0 {
		select {
		case <-time.After(m.pageDelay):
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	if m.pageErr != nil {
		return Page{}, m.pageErr
	}

	index := 0
	if req.Cursor != "" {
		fmt.Sscanf(req.Cursor, "page-%d", &index)
	}
	if index >= len(m.pages) {
		return Page{}, nil
	}
	return m.pages[index], nil
}

func (m *mockConnector) FetchOne(ctx context.Context, entity Entity, itemID string) (*Item, error) {
	m.mu.Lock()
	m.fetchOneIDs = append(m.fetchOneIDs, itemID)
	m.inFlight++
	m.maxInFlight = max(m.maxInFlight, m.inFlight)
	m.mu.Unlock()

	time.Sleep(time.Millisecond)

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.failIDs[itemID] {
		return nil, errors.New("boom")
	}
	return m.parents[itemID], nil
}

// buildPages returns count pages of size items each, newest first. Every
// replyEvery-th item is a reply to "parent-<n>".
func buildPages(count, size, replyEvery int) []Page {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := count * size

	pages := make([]Page, count)
	for p := 0; p < count; p++ {
		for i := 0; i < size; i++ {
			n := p*size + i
			item := Item{
				ID:        fmt.Sprintf("item-%d", n),
				Author:    "alice",
				Body:      fmt.Sprintf("post %d", n),
				Timestamp: base.Add(time.Duration(total-n) * time.Minute),
			}
			if replyEvery > 0 && n%replyEvery == replyEvery-1 {
				item.ParentID = fmt.Sprintf("parent-%d", n)
			}
			pages[p].Items = append(pages[p].Items, item)
		}
		if p < count-1 {
			pages[p].NextCursor = fmt.Sprintf("page-%d", p+1)
		}
	}
	return pages
}

func TestAggregatorStopsEarlyForNewest(t *testing.T) {
	conn := &mockConnector{pages: buildPages(3, 150, 0)}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{
		Identifier: "alice",
		Limit:      5,
		SortOrder:  SortNewest,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if conn.pageCalls != 1 {
		t.Errorf("Expected 1 page fetch, got %d", conn.pageCalls)
	}
	if len(items) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(items))
	}
	for i, item := range items {
		if item.ID != fmt.Sprintf("item-%d", i) {
			t.Errorf("Expected item-%d at position %d, got %s", i, i, item.ID)
		}
	}
}

func TestAggregatorFiltersRepliesPerPage(t *testing.T) {
	// Every second item is a reply, so 150 kept items need both pages.
	conn := &mockConnector{pages: buildPages(3, 150, 2)}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{
		Limit: 100,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if conn.pageCalls != 2 {
		t.Errorf("Expected 2 page fetches, got %d", conn.pageCalls)
	}
	if len(items) != 100 {
		t.Fatalf("Expected 100 items, got %d", len(items))
	}
	for _, item := range items {
		if item.IsReply() {
			t.Fatalf("Reply %s should have been filtered", item.ID)
		}
	}
}

func TestAggregatorOldestFirst(t *testing.T) {
	conn := &mockConnector{pages: buildPages(3, 10, 0)}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{
		Limit:     5,
		SortOrder: SortOldest,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if conn.pageCalls != 3 {
		t.Errorf("Expected full history to be fetched, got %d page fetches", conn.pageCalls)
	}
	if len(items) != 5 {
		t.Fatalf("Expected 5 items, got %d", len(items))
	}
	if items[0].ID != "item-29" || items[4].ID != "item-25" {
		t.Errorf("Expected oldest items item-29..item-25, got %s..%s", items[0].ID, items[4].ID)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Timestamp.Before(items[i-1].Timestamp) {
			t.Errorf("Items should be in ascending time order at %d", i)
		}
	}
}

func TestAggregatorAll(t *testing.T) {
	conn := &mockConnector{pages: buildPages(3, 10, 0)}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{
		Limit: 5,
		All:   true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(items) != 30 {
		t.Errorf("Expected all 30 items, got %d", len(items))
	}
}

func TestAggregatorMaxPages(t *testing.T) {
	tests := []struct {
		name      string
		params    RequestParams
		wantErr   bool
		wantItems int
	}{
		{"all", RequestParams{All: true}, true, 0},
		{"oldest", RequestParams{Limit: 5, SortOrder: SortOldest}, true, 0},
		{"newest", RequestParams{Limit: 100}, false, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockConnector{pages: buildPages(5, 10, 0)}
			aggregator := NewAggregator(WithMaxPages(2))

			items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, tt.params)
			if conn.pageCalls != 2 {
				t.Errorf("Expected 2 page fetches, got %d", conn.pageCalls)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrHistoryTooLong) {
					t.Fatalf("Expected ErrHistoryTooLong, got: %v", err)
				}
				if items != nil {
					t.Errorf("Expected no partial items, got %d", len(items))
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(items) != tt.wantItems {
				t.Errorf("Expected %d items, got %d", tt.wantItems, len(items))
			}
		})
	}
}

func TestAggregatorAllWithinPageLimit(t *testing.T) {
	conn := &mockConnector{pages: buildPages(5, 10, 0)}
	aggregator := NewAggregator(WithMaxPages(5))

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{All: true})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(items) != 50 {
		t.Errorf("Expected 50 items, got %d", len(items))
	}
}

func TestAggregatorEmpty(t *testing.T) {
	conn := &mockConnector{}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{Limit: 5})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", items)
	}
}

func TestAggregatorInvalidLimit(t *testing.T) {
	conn := &mockConnector{pages: buildPages(1, 10, 0)}
	aggregator := NewAggregator()

	_, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{Limit: 0})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Expected ErrInvalidParameter, got: %v", err)
	}
	if conn.pageCalls != 0 {
		t.Errorf("Expected no upstream calls, got %d", conn.pageCalls)
	}
}

func TestAggregatorPageErrorPropagates(t *testing.T) {
	upstream := &UpstreamError{Provider: "mock", Endpoint: "/feed", Status: 500}
	conn := &mockConnector{pageErr: upstream}
	aggregator := NewAggregator()

	_, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{Limit: 5})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Expected ErrUpstream, got: %v", err)
	}
}

func TestAggregatorResolvesParentsInBatches(t *testing.T) {
	pages := buildPages(1, 60, 1)
	parents := make(map[string]*Item)
	for _, item := range pages[0].Items {
		parents[item.ParentID] = &Item{ID: item.ParentID, Author: "bob", Body: "parent of " + item.ID}
	}
	// Two items share a parent, so it must only be looked up once.
	pages[0].Items[1].ParentID = pages[0].Items[0].ParentID

	conn := &mockConnector{
		pages:   pages,
		parents: parents,
		failIDs: map[string]bool{"parent-7": true},
	}
	aggregator := NewAggregator(WithBatchSize(25))

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "alice"}, RequestParams{
		Limit:          60,
		IncludeReplies: true,
		IncludeParents: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(conn.fetchOneIDs) != 59 {
		t.Errorf("Expected 59 distinct parent lookups, got %d", len(conn.fetchOneIDs))
	}
	if conn.maxInFlight > 25 {
		t.Errorf("Expected at most 25 concurrent lookups, got %d", conn.maxInFlight)
	}
	if len(items) != 60 {
		t.Fatalf("Expected 60 items, got %d", len(items))
	}

	for _, item := range items {
		if item.ParentID == "parent-7" {
			if item.Parent != nil {
				t.Errorf("Item %s should have no parent after failed lookup", item.ID)
			}
			continue
		}
		if item.Parent == nil || item.Parent.ID != item.ParentID {
			t.Errorf("Item %s should have parent %s attached", item.ID, item.ParentID)
		}
	}
	if items[0].Parent != items[1].Parent {
		t.Error("Items sharing a parent id should share the resolved parent")
	}
}

func TestAggregatorTimeout(t *testing.T) {
	conn := &mockConnector{pages: buildPages(3, 10, 0), pageDelay: 50 * time.Millisecond}
	aggregator := NewAggregator()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	items, err := aggregator.Run(ctx, conn, Entity{ID: "alice"}, RequestParams{All: true})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got: %v", err)
	}
	if items != nil {
		t.Errorf("Expected no partial result, got %d items", len(items))
	}
}

type enrichingConnector struct {
	mockConnector
	enriched int
}

func (e *enrichingConnector) Enrich(ctx context.Context, entity Entity, items []Item) error {
	e.enriched = len(items)
	for i := range items {
		items[i].Body += " (full)"
	}
	return nil
}

func TestAggregatorEnrichesTruncatedItems(t *testing.T) {
	conn := &enrichingConnector{mockConnector: mockConnector{pages: buildPages(1, 20, 0)}}
	aggregator := NewAggregator()

	items, err := aggregator.Run(context.Background(), conn, Entity{ID: "feed"}, RequestParams{
		Limit:          3,
		IncludeContent: true,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if conn.enriched != 3 {
		t.Errorf("Expected 3 items to be enriched, got %d", conn.enriched)
	}
	if items[0].Body != "post 0 (full)" {
		t.Errorf("Expected enriched body, got %q", items[0].Body)
	}
}
