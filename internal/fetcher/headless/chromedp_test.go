package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: 0})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer fetcher.Close()
	require.Equal(t, 2, cap(fetcher.slots))
	require.Equal(t, defaultNavTimeout, fetcher.cfg.NavigationTimeout)
}

func TestFetchHonorsCanceledContextWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer fetcher.Close()
	fetcher.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = fetcher.Fetch(ctx, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocumentResponseObserve(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://example.com/logo.png"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc", "Vary": []any{"a", "b"}},
		},
	})
	status, headers, url := doc.result()
	require.Equal(t, 203, status)
	require.Equal(t, "abc", headers.Get("X-Request-ID"))
	require.Equal(t, []string{"a", "b"}, headers.Values("Vary"))
	require.Equal(t, "https://example.com/rendered", url)
}

func TestDocumentResponseDefaults(t *testing.T) {
	t.Parallel()

	status, headers, url := (&documentResponse{}).result()
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Empty(t, url)
	require.Equal(t, "b", firstNonEmpty("", "b", "c"))
}
