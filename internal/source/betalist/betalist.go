// Package betalist reads upcoming startups from the BetaList RSS feed.
package betalist

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/source/feed"
)

// Name is the source label recorded on entities.
const Name = "BetaList"

// Public feed locations. The primary redirects to the fallback at times.
const (
	DefaultFeedURL     = "https://betalist.com/rss"
	DefaultFallbackURL = "https://betalist.com/startups/feed"
)

// Client fetches the feed, trying the fallback when the primary fails.
type Client struct {
	feedURL     string
	fallbackURL string
	fetcher     radar.Fetcher
	clock       radar.Clock
	logger      *zap.Logger
}

// New builds a Client. Empty URLs select the defaults.
func New(feedURL, fallbackURL string, fetcher radar.Fetcher, clock radar.Clock, logger *zap.Logger) *Client {
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}
	if fallbackURL == "" {
		fallbackURL = DefaultFallbackURL
	}
	return &Client{
		feedURL:     feedURL,
		fallbackURL: fallbackURL,
		fetcher:     fetcher,
		clock:       clock,
		logger:      logging.OrNop(logger).Named("betalist"),
	}
}

// Name returns the source label.
func (c *Client) Name() string {
	return Name
}

// Fetch returns up to limit startups. Items without a link are skipped after
// the limit is applied.
func (c *Client) Fetch(ctx context.Context, limit int) ([]radar.RawRecord, error) {
	body, err := c.get(ctx, c.feedURL)
	if err != nil {
		c.logger.Info("primary feed failed, trying fallback", zap.Error(err))
		var fallbackErr error
		body, fallbackErr = c.get(ctx, c.fallbackURL)
		if fallbackErr != nil {
			return nil, errors.Join(err, fallbackErr)
		}
	}
	entries, err := feed.Parse(body)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	records := make([]radar.RawRecord, 0, len(entries))
	for _, e := range entries {
		if e.Link == "" {
			continue
		}
		rec := radar.RawRecord{
			Title:       e.Title,
			URL:         e.Link,
			Source:      Name,
			SourceID:    e.GUID,
			PublishedAt: e.Published,
		}
		if rec.Title == "" {
			rec.Title = "No Title"
		}
		if rec.SourceID == "" {
			rec.SourceID = e.Link
		}
		if rec.PublishedAt == nil {
			rec.PublishedAt = radar.TimePtr(c.clock.Now())
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
