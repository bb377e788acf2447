// Package feed extracts entries from RSS 2.0 and Atom documents.
package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// Entry is one RSS <item> or Atom <entry>.
type Entry struct {
	Title     string
	Link      string
	GUID      string
	Published *time.Time
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05Z0700",
}

// Parse returns the entries of an RSS or Atom document in document order.
func Parse(body []byte) ([]Entry, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	var entries []Entry
	walk(doc, func(n *xmlquery.Node) bool {
		if n.Type != xmlquery.ElementNode || (n.Data != "item" && n.Data != "entry") {
			return true
		}
		entries = append(entries, entryFrom(n))
		return false
	})
	return entries, nil
}

func entryFrom(n *xmlquery.Node) Entry {
	e := Entry{
		Title: text(child(n, "title")),
		Link:  link(n),
	}
	if guid := child(n, "guid"); guid != nil {
		e.GUID = text(guid)
	} else if id := child(n, "id"); id != nil {
		e.GUID = text(id)
	}
	for _, name := range []string{"published", "pubDate", "updated", "date"} {
		if ts, ok := ParseDate(text(child(n, name))); ok {
			e.Published = &ts
			break
		}
	}
	return e
}

// link prefers Atom's rel="alternate" (or rel-less) href and falls back to the
// element text used by RSS.
func link(n *xmlquery.Node) string {
	var fallback string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode || c.Data != "link" {
			continue
		}
		href := strings.TrimSpace(c.SelectAttr("href"))
		if href == "" {
			href = text(c)
		}
		if href == "" {
			continue
		}
		rel := c.SelectAttr("rel")
		if rel == "" || rel == "alternate" {
			return href
		}
		if fallback == "" {
			fallback = href
		}
	}
	return fallback
}

// ParseDate accepts the RSS and Atom date formats seen in the wild.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func child(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

// walk visits n and its descendants depth first. visit returns false to skip
// a node's children.
func walk(n *xmlquery.Node, visit func(*xmlquery.Node) bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if visit(c) {
			walk(c, visit)
		}
	}
}
