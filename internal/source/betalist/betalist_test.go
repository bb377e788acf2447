package betalist

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

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>BetaList</title>
    <item>
      <title>Startup One</title>
      <link>https://betalist.com/startups/startup-one</link>
      <guid>startup-one</guid>
    </item>
    <item>
      <title>Startup Two</title>
      <link>https://betalist.com/startups/startup-two</link>
      <guid>startup-two</guid>
    </item>
    <item>
      <link>https://betalist.com/startups/untitled</link>
    </item>
    <item>
      <title>Linkless</title>
    </item>
  </channel>
</rss>`

var fixedNow = time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)

func newClient(srv *httptest.Server) *Client {
	return New(srv.URL+"/rss", srv.URL+"/startups/feed",
		collyfetcher.New(collyfetcher.Config{Timeout: time.Second}), clock.NewManual(fixedNow), nil)
}

func TestFetchFollowsRedirectAndParsesItems(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/startups/feed", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/startups/feed", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records, err := newClient(srv).Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Startup One", records[0].Title)
	require.Equal(t, "https://betalist.com/startups/startup-one", records[0].URL)
	require.Equal(t, Name, records[0].Source)
	require.Equal(t, "startup-one", records[0].SourceID)
	require.Equal(t, fixedNow, *records[0].PublishedAt)
	require.Equal(t, "Startup Two", records[1].Title)
}

func TestFetchUsesFallbackOnNon200(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/startups/feed", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records, err := newClient(srv).Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "No Title", records[2].Title)
	require.Equal(t, "https://betalist.com/startups/untitled", records[2].SourceID)
}

func TestFetchBothFeedsFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newClient(srv).Fetch(context.Background(), 10)
	require.Error(t, err)
}
