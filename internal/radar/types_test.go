package radar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEntityAddSourceIsSetLike(t *testing.T) {
	t.Parallel()

	var e Entity
	require.True(t, e.AddSource(SourceOccurrence{Source: "Hacker News", SourceID: "1"}))
	require.False(t, e.AddSource(SourceOccurrence{Source: "Hacker News", SourceID: "1"}))
	require.True(t, e.AddSource(SourceOccurrence{Source: "Hacker News", SourceID: "2"}))
	require.Len(t, e.Sources, 2)
}

func TestEntityCloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0).UTC()
	orig := Entity{
		ID:         "e1",
		Sources:    []SourceOccurrence{{Source: "A", SourceID: "1"}},
		Analysis:   &Analysis{Score: 80, Tags: []string{"x"}},
		Metrics:    []MetricObservation{{RecordedAt: now, Value: 3, Rank: IntPtr(1)}},
		AnalyzedAt: TimePtr(now),
	}
	c := orig.Clone()
	c.Sources[0].SourceID = "changed"
	c.Analysis.Tags[0] = "y"
	*c.Metrics[0].Rank = 9
	*c.AnalyzedAt = now.Add(time.Hour)

	require.Equal(t, "1", orig.Sources[0].SourceID)
	require.Equal(t, "x", orig.Analysis.Tags[0])
	require.Equal(t, 1, *orig.Metrics[0].Rank)
	require.Equal(t, now, *orig.AnalyzedAt)
}

func TestEntityLatestMetric(t *testing.T) {
	t.Parallel()

	var e Entity
	_, ok := e.LatestMetric()
	require.False(t, ok)

	base := time.Unix(0, 0)
	e.Metrics = []MetricObservation{
		{RecordedAt: base.Add(2 * time.Minute), Value: 20},
		{RecordedAt: base, Value: 5},
		{RecordedAt: base.Add(time.Minute), Value: 10},
	}
	m, ok := e.LatestMetric()
	require.True(t, ok)
	require.EqualValues(t, 20, m.Value)
}

func TestValidSort(t *testing.T) {
	t.Parallel()

	for _, key := range []string{SortScore, SortLastSeen, SortFirstSeen, SortSeenCount, SortMetric} {
		require.True(t, ValidSort(key), key)
	}
	require.False(t, ValidSort("title"))
	require.False(t, ValidSort(""))
}
