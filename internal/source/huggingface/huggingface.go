// Package huggingface reads the most liked Spaces from the Hugging Face Hub API.
package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/market-radar/internal/radar"
)

// Name is the source label recorded on entities.
const Name = "Hugging Face"

// DefaultBaseURL is the public Hub host.
const DefaultBaseURL = "https://huggingface.co"

const spaceURLPrefix = "https://huggingface.co/spaces/"

// Client queries the Hub API.
type Client struct {
	baseURL string
	http    *http.Client
	clock   radar.Clock
}

// New builds a Client. An empty baseURL selects DefaultBaseURL.
func New(baseURL string, httpClient *http.Client, clock radar.Clock) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, clock: clock}
}

// Name returns the source label.
func (c *Client) Name() string {
	return Name
}

type space struct {
	ID    string `json:"id"`
	Likes int64  `json:"likes"`
}

// Fetch returns up to limit Spaces sorted by likes, ranked by position.
func (c *Client) Fetch(ctx context.Context, limit int) ([]radar.RawRecord, error) {
	q := url.Values{}
	q.Set("sort", "likes")
	q.Set("direction", "-1")
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/api/spaces?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list spaces: status %d", resp.StatusCode)
	}
	var spaces []space
	if err := json.NewDecoder(resp.Body).Decode(&spaces); err != nil {
		return nil, fmt.Errorf("decode spaces: %w", err)
	}

	now := c.clock.Now()
	records := make([]radar.RawRecord, 0, len(spaces))
	for i, s := range spaces {
		if s.ID == "" {
			continue
		}
		records = append(records, radar.RawRecord{
			Title:       s.ID + " (Space)",
			URL:         spaceURLPrefix + s.ID,
			Source:      Name,
			SourceID:    s.ID,
			PublishedAt: radar.TimePtr(now),
			MetricValue: s.Likes,
			Rank:        radar.IntPtr(i + 1),
		})
	}
	return records, nil
}
