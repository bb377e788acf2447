package producthunt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-radar/internal/clock"
	collyfetcher "github.com/JakeFAU/market-radar/internal/fetcher/colly"
)

const atom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <title>Acme AI</title>
    <published>2025-06-10T08:00:00Z</published>
    <link rel="alternate" type="text/html" href="https://www.producthunt.com/products/acme-ai?utm_source=rss"/>
  </entry>
  <entry>
    <title>Widget</title>
    <link rel="alternate" href="https://www.producthunt.com/products/widget"/>
  </entry>
  <entry>
    <title>Third</title>
    <link rel="alternate" href="https://www.producthunt.com/products/third"/>
  </entry>
</feed>`

func TestFetchParsesAtomEntries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(atom))
	}))
	defer srv.Close()

	now := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	c := New(srv.URL, collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), clock.NewManual(now))

	records, err := c.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "Acme AI", records[0].Title)
	require.Equal(t, "https://www.producthunt.com/products/acme-ai", records[0].URL)
	require.Equal(t, "acme-ai", records[0].SourceID)
	require.Equal(t, Name, records[0].Source)
	require.Zero(t, records[0].MetricValue)
	require.Nil(t, records[0].Rank)
	require.Equal(t, time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC), *records[0].PublishedAt)

	require.Equal(t, "widget", records[1].SourceID)
	require.Equal(t, now, *records[1].PublishedAt)
}

func TestFetchNon200(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL, collyfetcher.New(collyfetcher.Config{}), clock.NewSystem())
	_, err := c.Fetch(context.Background(), 5)
	require.Error(t, err)
}

func TestLastSegment(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme", lastSegment("https://www.producthunt.com/posts/acme/"))
	require.Equal(t, "plain", lastSegment("plain"))
}
