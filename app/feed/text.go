package feed

import (
	"cmp"
	"fmt"
	"strings"
	"time"
)

// TextRenderer renders a Result as plain text for terminals and LLM prompts.
type TextRenderer struct{}

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

func (r *TextRenderer) Run(result *Result) string {
	var b strings.Builder

	entity := result.Entity
	fmt.Fprintf(&b, "# %s (%s)\n", cmp.Or(entity.DisplayName, entity.Handle, entity.ID), result.Connector)
	if entity.Description != "" {
		fmt.Fprintf(&b, "%s\n", entity.Description)
	}
	fmt.Fprintf(&b, "%d items, %s first\n\n", len(result.Items), cmp.Or(result.Params.SortOrder, SortNewest))

	for _, item := range result.Items {
		r.writeItem(&b, item, "")
	}

	return b.String()
}

func (r *TextRenderer) writeItem(b *strings.Builder, item Item, indent string) {
	ts := "unknown date"
	if !item.Timestamp.IsZero() {
		ts = item.Timestamp.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(b, "%s[%s] %s\n", indent, ts, cmp.Or(item.Author, "unknown"))

	if item.Parent != nil {
		fmt.Fprintf(b, "%s  in reply to %s: %s\n", indent, cmp.Or(item.Parent.Author, "unknown"), firstLine(item.Parent.Body, 120))
	}

	for _, line := range strings.Split(strings.TrimSpace(item.Body), "\n") {
		fmt.Fprintf(b, "%s  %s\n", indent, line)
	}

	if item.Reactions != nil {
		fmt.Fprintf(b, "%s  likes: %d  reposts: %d  replies: %d\n", indent,
			item.Reactions.Likes, item.Reactions.Reposts, item.Reactions.Replies)
	}
	for _, embed := range item.Embeds {
		fmt.Fprintf(b, "%s  embed: %s\n", indent, embed)
	}
	if item.URL != "" {
		fmt.Fprintf(b, "%s  %s\n", indent, item.URL)
	}
	b.WriteString("\n")
}
