package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/radar"
)

type fakeIngester struct {
	calls atomic.Int32
	limit atomic.Int32
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, limit int) (ingest.Report, error) {
	f.calls.Add(1)
	f.limit.Store(int32(limit))
	return ingest.Report{Run: radar.Run{ID: "run-1", Status: radar.RunSuccess}}, f.err
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", "", 20, nil)
	require.Error(t, err)
	_, err = New(&fakeIngester{}, "", "", 0, nil)
	require.ErrorContains(t, err, "must be > 0")
	_, err = New(&fakeIngester{}, "not a spec", "", 20, nil)
	require.ErrorContains(t, err, "add cron")
	_, err = New(&fakeIngester{}, "", "Mars/Olympus", 20, nil)
	require.ErrorContains(t, err, "load timezone")
}

func TestDefaultSpecRunsDailyAtTenInLocation(t *testing.T) {
	t.Parallel()

	s, err := New(&fakeIngester{}, "", "America/New_York", 20, nil)
	require.NoError(t, err)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	next := s.Schedule(time.Date(2025, 6, 10, 11, 0, 0, 0, loc))
	require.True(t, next.Equal(time.Date(2025, 6, 11, 10, 0, 0, 0, loc)), "next = %s", next)
}

func TestRunOnceLogsOutcome(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		err     error
		message string
	}{
		{name: "success", message: "scheduled ingest finished"},
		{name: "in progress", err: radar.ErrIngestInProgress, message: "scheduled ingest skipped, run in progress"},
		{name: "failure", err: errors.New("db down"), message: "scheduled ingest failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zap.InfoLevel)
			ing := &fakeIngester{err: tc.err}
			s, err := New(ing, "@every 1h", "", 15, zap.New(core))
			require.NoError(t, err)

			s.RunOnce(context.Background())
			require.EqualValues(t, 1, ing.calls.Load())
			require.EqualValues(t, 15, ing.limit.Load())
			require.Equal(t, 1, logs.FilterMessage(tc.message).Len())
		})
	}
}

func TestStartFiresJobs(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	s, err := New(ing, "@every 1s", "", 5, nil)
	require.NoError(t, err)

	s.Start(context.Background())
	require.False(t, s.Next().IsZero())
	require.Eventually(t, func() bool { return ing.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
