package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-radar/internal/llm"
	"github.com/JakeFAU/market-radar/internal/radar"
)

type fakeCompleter struct {
	content string
	err     error
	last    llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.content, f.err
}

func TestLLMAnalyze(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{content: `{"summary":"Acme builds rockets","category":"SpaceTech","score":88,"reasoning":"team","tags":["space"]}`}
	a := NewLLM(fc, nil)

	got, err := a.Analyze(context.Background(), radar.RawRecord{Title: "Acme", URL: "https://acme.io/", Content: "We build rockets."})
	require.NoError(t, err)
	require.Equal(t, radar.Analysis{
		Summary:   "Acme builds rockets",
		Category:  "SpaceTech",
		Score:     88,
		Reasoning: "team",
		Tags:      []string{"space"},
	}, got)
	require.True(t, fc.last.JSON)
	require.Contains(t, fc.last.System, "venture capital analyst")
	require.Contains(t, fc.last.User, "Title: Acme")
	require.Contains(t, fc.last.User, "We build rockets.")
}

func TestLLMAnalyzeFailuresWrapErrAnalysis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{name: "transport", fc: &fakeCompleter{err: errors.New("timeout")}},
		{name: "bad json", fc: &fakeCompleter{content: "sorry, I cannot"}},
		{name: "missing score", fc: &fakeCompleter{content: `{"summary":"x"}`}},
		{name: "score out of range", fc: &fakeCompleter{content: `{"summary":"x","score":140}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewLLM(tt.fc, nil).Analyze(context.Background(), radar.RawRecord{Title: "t"})
			require.ErrorIs(t, err, radar.ErrAnalysis)
		})
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	t.Parallel()

	rec := radar.RawRecord{Title: "Acme", URL: "https://acme.io/"}
	first, err := Heuristic{}.Analyze(context.Background(), rec)
	require.NoError(t, err)
	second, err := Heuristic{}.Analyze(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Equal(t, "Mock analysis for: Acme. A potential market disruptor in its field.", first.Summary)
	require.Equal(t, "Automated mock scoring based on keywords.", first.Reasoning)
	require.Equal(t, []string{"Startup", "Tech", "MockData"}, first.Tags)
	require.Contains(t, heuristicCategories, first.Category)
	require.Contains(t, heuristicScores, first.Score)
}

func TestNewSelectsHeuristicWithoutKey(t *testing.T) {
	t.Parallel()

	_, ok := New(llm.New(llm.Config{}), nil).(Heuristic)
	require.True(t, ok)
	_, ok = New(llm.New(llm.Config{APIKey: "k"}), nil).(*LLM)
	require.True(t, ok)
}
