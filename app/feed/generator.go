package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
)

// Generator renders a Result as an RSS 2.0 document.
type Generator struct {
	baseURL string
	version string
}

func NewGenerator(baseURL, version string) *Generator {
	return &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
	}
}

func (g *Generator) Run(result *Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result is nil")
	}

	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	entity := result.Entity
	g.writeElement(&buf, "title", cmp.Or(entity.DisplayName, entity.Handle, entity.ID), 4)
	g.writeElement(&buf, "link", entity.URL, 4)
	description := entity.Description
	if description == "" {
		description = fmt.Sprintf("%s content for %s", result.Connector, cmp.Or(entity.Handle, entity.ID))
	}
	g.writeElement(&buf, "description", description, 4)

	if g.baseURL != "" {
		selfLink := fmt.Sprintf("%s/feeds/%s?q=%s", g.baseURL, result.Connector, url.QueryEscape(result.Params.Identifier))
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(selfLink)))
	}

	lastBuildDate := result.FetchedAt
	if len(result.Items) > 0 && !result.Items[0].Timestamp.IsZero() {
		lastBuildDate = result.Items[0].Timestamp
	}
	if !lastBuildDate.IsZero() {
		g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	}
	g.writeElement(&buf, "generator", fmt.Sprintf("feedgate/%s", cmp.Or(g.version, "dev")), 4)

	for _, item := range result.Items {
		g.writeItem(&buf, item)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, item Item) {
	buf.WriteString("    <item>\n")

	if item.ID != "" {
		buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", g.isURL(item.ID)))
		xml.EscapeText(buf, []byte(item.ID))
		buf.WriteString("</guid>\n")
	}

	g.writeElement(buf, "title", firstLine(item.Body, 80), 6)
	g.writeElement(buf, "link", item.URL, 6)
	g.writeElement(buf, "description", cmp.Or(item.Body, "No description available"), 6)

	if !item.Timestamp.IsZero() {
		g.writeElement(buf, "pubDate", item.Timestamp.Format(time.RFC1123Z), 6)
	}

	g.writeElement(buf, "author", item.Author, 6)

	for _, embed := range item.Embeds {
		if embed != "" {
			g.writeElement(buf, "source", embed, 6)
		}
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func firstLine(s string, max int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if r := []rune(line); len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return line
}
