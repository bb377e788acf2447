// Package hackernews reads top stories from the Hacker News Firebase API.
package hackernews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
)

// Name is the source label recorded on entities.
const Name = "Hacker News"

// DefaultBaseURL is the public API host.
const DefaultBaseURL = "https://hacker-news.firebaseio.com"

// Client fetches stories. Its http.Client should carry a paced transport.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logging.OrNop(logger).Named("hackernews"),
	}
}

// Name returns the source label.
func (c *Client) Name() string {
	return Name
}

type item struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Score int64  `json:"score"`
	Time  int64  `json:"time"`
}

// Fetch returns up to limit top stories in ranking order. A failing story is
// skipped; failing to read the ranking is an error.
func (c *Client) Fetch(ctx context.Context, limit int) ([]radar.RawRecord, error) {
	var ids []int64
	if _, err := c.getJSON(ctx, c.baseURL+"/v0/topstories.json", &ids); err != nil {
		return nil, fmt.Errorf("top stories: %w", err)
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	records := make([]radar.RawRecord, 0, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return records, nil
		}
		var it *item
		status, err := c.getJSON(ctx, fmt.Sprintf("%s/v0/item/%d.json", c.baseURL, id), &it)
		if err != nil || status != http.StatusOK {
			c.logger.Debug("skip story", zap.Int64("id", id), zap.Int("status", status), zap.Error(err))
			continue
		}
		if it == nil || it.URL == "" || it.Type != "story" {
			continue
		}
		rec := radar.RawRecord{
			Title:       it.Title,
			URL:         it.URL,
			Source:      Name,
			SourceID:    strconv.FormatInt(it.ID, 10),
			MetricValue: it.Score,
			Rank:        radar.IntPtr(i + 1),
		}
		if rec.Title == "" {
			rec.Title = "No Title"
		}
		if it.Time > 0 {
			rec.PublishedAt = radar.TimePtr(time.Unix(it.Time, 0).UTC())
		}
		records = append(records, rec)
	}
	return records, nil
}

// getJSON decodes a 200 response into out and returns the status code.
func (c *Client) getJSON(ctx context.Context, url string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s: %w", url, err)
	}
	return resp.StatusCode, nil
}
