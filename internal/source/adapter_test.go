package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-radar/internal/radar"
)

type fakeFetcher struct {
	name    string
	records []radar.RawRecord
	err     error
	panic   bool
	release chan struct{}
}

func (f fakeFetcher) Name() string { return f.name }

func (f fakeFetcher) Fetch(_ context.Context, _ int) ([]radar.RawRecord, error) {
	if f.panic {
		panic("boom")
	}
	if f.release != nil {
		<-f.release
	}
	return f.records, f.err
}

func TestAdapterReturnsRecords(t *testing.T) {
	t.Parallel()

	a := NewAdapter(fakeFetcher{
		name: "Fake",
		records: []radar.RawRecord{
			{URL: "https://a.io", SourceID: "1"},
			{URL: "https://b.io", SourceID: "2", Source: "Other"},
			{URL: "https://c.io", SourceID: "3"},
		},
	}, time.Second, nil)

	got := a.FetchLatest(context.Background(), 2)
	require.Len(t, got, 2)
	require.Equal(t, "Fake", got[0].Source)
	require.Equal(t, "Other", got[1].Source)
	require.Equal(t, "Fake", a.Name())
}

func TestAdapterIsolatesFailures(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name    string
		fetcher fakeFetcher
	}{
		{name: "error", fetcher: fakeFetcher{name: "E", err: errors.New("network down")}},
		{name: "panic", fetcher: fakeFetcher{name: "P", panic: true}},
		{name: "stall", fetcher: fakeFetcher{name: "S", release: release}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAdapter(tt.fetcher, 50*time.Millisecond, nil)
			start := time.Now()
			require.Empty(t, a.FetchLatest(context.Background(), 10))
			require.Less(t, time.Since(start), 2*time.Second)
		})
	}
}
