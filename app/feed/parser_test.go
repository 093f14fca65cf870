package feed

import (
	"testing"
	"time"
)

func TestParseRSS2(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <description>Test Description</description>
    <language>en-us</language>
    <item>
      <title>Test Item 1</title>
      <link>https://example.com/item1</link>
      <description>Test Item 1 Description</description>
      <guid>item-1</guid>
      <pubDate>Mon, 03 Jul 2023 10:00:00 GMT</pubDate>
      <author>test@example.com (Test Author)</author>
    </item>
    <item>
      <title>Test Item 2</title>
      <link>https://example.com/item2</link>
      <description>Test Item 2 Description</description>
      <guid>item-2</guid>
      <pubDate>Mon, 03 Jul 2023 11:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(rssData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "Test Feed" {
		t.Errorf("Expected title 'Test Feed', got: %s", metadata.Title)
	}
	if metadata.Link != "https://example.com" {
		t.Errorf("Expected link 'https://example.com', got: %s", metadata.Link)
	}
	if metadata.Description != "Test Description" {
		t.Errorf("Expected description 'Test Description', got: %s", metadata.Description)
	}
	if metadata.Language != "en-us" {
		t.Errorf("Expected language 'en-us', got: %s", metadata.Language)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got: %d", len(items))
	}

	item1 := items[0]
	if item1.ID != "item-1" {
		t.Errorf("Expected ID 'item-1', got: %s", item1.ID)
	}
	if item1.URL != "https://example.com/item1" {
		t.Errorf("Expected URL 'https://example.com/item1', got: %s", item1.URL)
	}
	if item1.Body != "Test Item 1 Description" {
		t.Errorf("Expected body 'Test Item 1 Description', got: %s", item1.Body)
	}
	if item1.Author != "test@example.com (Test Author)" {
		t.Errorf("Expected author 'test@example.com (Test Author)', got: %s", item1.Author)
	}
	expectedTime := time.Date(2023, 7, 3, 10, 0, 0, 0, time.UTC)
	if !item1.Timestamp.Equal(expectedTime) {
		t.Errorf("Expected timestamp %v, got: %v", expectedTime, item1.Timestamp)
	}
	if item1.IsReply() {
		t.Error("RSS items should never be replies")
	}
}

func TestParseAtom(t *testing.T) {
	atomData := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Test Atom Feed</title>
  <link href="https://example.com/"/>
  <updated>2023-07-03T12:00:00Z</updated>
  <entry>
    <title>Test Entry</title>
    <link href="https://example.com/entry1"/>
    <id>urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a</id>
    <updated>2023-07-03T10:00:00Z</updated>
    <author><name>Jane</name></author>
    <content type="html">&lt;p&gt;Entry &lt;b&gt;content&lt;/b&gt;&lt;/p&gt;</content>
  </entry>
</feed>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(atomData))

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "Test Atom Feed" {
		t.Errorf("Expected title 'Test Atom Feed', got: %s", metadata.Title)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(items))
	}

	item := items[0]
	if item.ID != "urn:uuid:1225c695-cfb8-4ebb-aaaa-80da344efa6a" {
		t.Errorf("Expected atom id as item ID, got: %s", item.ID)
	}
	if item.Body != "Entry content" {
		t.Errorf("Expected markup stripped body 'Entry content', got: %q", item.Body)
	}
	if item.Author != "Jane" {
		t.Errorf("Expected author 'Jane', got: %s", item.Author)
	}
	if item.Timestamp.IsZero() {
		t.Error("Expected updated date to be used as timestamp")
	}
}

func TestParseInvalidFeed(t *testing.T) {
	parser := NewParser()
	_, _, err := parser.Run([]byte("invalid xml"))

	if err == nil {
		t.Error("Expected error for invalid XML")
	}
}

func TestContentHashGeneration(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>No ids</title>
    <item><title>Untitled thought</title></item>
    <item><title>Untitled thought</title></item>
    <item><title>Another thought</title></item>
  </channel>
</rss>`

	parser := NewParser()
	_, items, err := parser.Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got: %d", len(items))
	}
	if len(items[0].ID) != 64 {
		t.Errorf("Expected sha256 hex id, got: %s", items[0].ID)
	}
	if items[0].ID != items[1].ID {
		t.Error("Identical items should hash to the same id")
	}
	if items[0].ID == items[2].ID {
		t.Error("Different items should hash to different ids")
	}
}

func TestParseRSSWithEnclosures(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Podcast</title>
    <item>
      <title>Episode 1</title>
      <guid>episode1</guid>
      <enclosure url="https://example.com/file1.mp3" length="1000000" type="audio/mpeg"/>
      <enclosure url="https://example.com/file2.mp3" length="2000000" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	_, items, err := parser.Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got: %d", len(items))
	}
	embeds := items[0].Embeds
	if len(embeds) != 2 {
		t.Fatalf("Expected 2 embeds, got: %d", len(embeds))
	}
	if embeds[0] != "https://example.com/file1.mp3" {
		t.Errorf("Expected first embed 'https://example.com/file1.mp3', got: %s", embeds[0])
	}
	if items[0].Body != "Episode 1" {
		t.Errorf("Expected title fallback body 'Episode 1', got: %s", items[0].Body)
	}
}

func TestParser_normalizeURL(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "URL with UTM parameters",
			input:    "https://example.com/article?utm_source=twitter&utm_medium=social&utm_campaign=test",
			expected: "https://example.com/article",
		},
		{
			name:     "URL with Facebook tracking",
			input:    "https://example.com/page?fbclid=IwAR123456789&other=keep",
			expected: "https://example.com/page?other=keep",
		},
		{
			name:     "URL with multiple tracking parameters",
			input:    "https://example.com/content?utm_source=email&fbclid=xyz789&ref=homepage&title=article",
			expected: "https://example.com/content?title=article",
		},
		{
			name:     "URL without tracking parameters",
			input:    "https://example.com/clean?page=1&sort=date",
			expected: "https://example.com/clean?page=1&sort=date",
		},
		{
			name:     "URL without query parameters",
			input:    "https://example.com/simple",
			expected: "https://example.com/simple",
		},
		{
			name:     "Empty URL",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parser.normalizeURL(tt.input)
			if result != tt.expected {
				t.Errorf("normalizeURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseRSSWithHTMLEntities(t *testing.T) {
	rssData := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>News &amp; Views</title>
    <description>&lt;p&gt;Daily &lt;em&gt;digest&lt;/em&gt;&lt;/p&gt;</description>
    <item>
      <title>Item</title>
      <guid>entity-1</guid>
      <description>&lt;p&gt;Tom &amp;amp; Jerry&lt;/p&gt;   &lt;p&gt;return&lt;/p&gt;</description>
    </item>
  </channel>
</rss>`

	parser := NewParser()
	metadata, items, err := parser.Run([]byte(rssData))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if metadata.Title != "News & Views" {
		t.Errorf("Expected metadata title %q, got %q", "News & Views", metadata.Title)
	}
	if metadata.Description != "Daily digest" {
		t.Errorf("Expected metadata description %q, got %q", "Daily digest", metadata.Description)
	}
	if items[0].Body != "Tom & Jerry return" {
		t.Errorf("Expected item body %q, got %q", "Tom & Jerry return", items[0].Body)
	}
}
