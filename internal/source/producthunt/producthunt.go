// Package producthunt reads launches from the Product Hunt feed.
package producthunt

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/source/feed"
)

// Name is the source label recorded on entities.
const Name = "Product Hunt"

// DefaultFeedURL is the public feed.
const DefaultFeedURL = "https://www.producthunt.com/feed"

// Client fetches and parses the feed.
type Client struct {
	feedURL string
	fetcher radar.Fetcher
	clock   radar.Clock
}

// New builds a Client. An empty feedURL selects DefaultFeedURL.
func New(feedURL string, fetcher radar.Fetcher, clock radar.Clock) *Client {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	return &Client{feedURL: feedURL, fetcher: fetcher, clock: clock}
}

// Name returns the source label.
func (c *Client) Name() string {
	return Name
}

// Fetch returns up to limit launches. Product Hunt exposes no vote count in
// the feed, so the metric is 0 and rank is unset.
func (c *Client) Fetch(ctx context.Context, limit int) ([]radar.RawRecord, error) {
	resp, err := c.fetcher.Fetch(ctx, c.feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}
	entries, err := feed.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	records := make([]radar.RawRecord, 0, len(entries))
	for _, e := range entries {
		link, _, _ := strings.Cut(e.Link, "?")
		if link == "" {
			continue
		}
		title := e.Title
		if title == "" {
			title = "No Title"
		}
		published := e.Published
		if published == nil {
			published = radar.TimePtr(c.clock.Now())
		}
		records = append(records, radar.RawRecord{
			Title:       title,
			URL:         link,
			Source:      Name,
			SourceID:    lastSegment(link),
			PublishedAt: published,
		})
	}
	return records, nil
}

func lastSegment(link string) string {
	trimmed := strings.TrimRight(link, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
