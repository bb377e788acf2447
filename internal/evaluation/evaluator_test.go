package evaluation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/market-radar/internal/llm"
	"github.com/JakeFAU/market-radar/internal/radar"
)

type fakeCompleter struct {
	short    string
	full     string
	shortErr error
	fullErr  error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if req.JSON {
		return f.short, f.shortErr
	}
	return f.full, f.fullErr
}

func sampleEntity() radar.Entity {
	return radar.Entity{
		ID:    "e1",
		URL:   "https://example.com/app",
		Title: "Acme",
		Sources: []radar.SourceOccurrence{
			{Source: "Product Hunt", SourceID: "acme"},
			{Source: "Hacker News", SourceID: "42"},
		},
		Analysis: &radar.Analysis{Summary: "A tool for things.", Score: 80},
	}
}

func TestFallbackEvaluate(t *testing.T) {
	t.Parallel()

	fb := Fallback{Model: "deepseek-chat"}
	ev := fb.Evaluate(context.Background(), sampleEntity(), 3)
	require.Equal(t, 3, ev.Version)
	require.Equal(t, 70, ev.OverallScore)
	require.Equal(t, "deepseek-chat", ev.Model)
	require.Contains(t, ev.ProductView, "Acme")
	require.Empty(t, ev.FullText)

	full := fb.EvaluateFull(context.Background(), sampleEntity(), 1)
	require.True(t, strings.HasPrefix(full.FullText, "Product: Acme shows promise"))
}

func TestLLMEvaluate(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{short: "```json\n{\"overall_score\": 82, \"product_view\": \"p\", \"investor_view\": \"i\", \"market_view\": \"m\", \"recommendation\": \"r\"}\n```"}
	ev := NewLLM(fc, "deepseek-chat", nil).Evaluate(context.Background(), sampleEntity(), 2)
	require.Equal(t, 82, ev.OverallScore)
	require.Equal(t, "p", ev.ProductView)
	require.Equal(t, 2, ev.Version)
	require.Len(t, fc.requests, 1)
	require.Contains(t, fc.requests[0].User, "Sources: Hacker News:42, Product Hunt:acme")
	require.Contains(t, fc.requests[0].User, "AI Summary: A tool for things.")
}

func TestLLMEvaluateFallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{name: "error", fc: &fakeCompleter{shortErr: errors.New("boom")}},
		{name: "garbage", fc: &fakeCompleter{short: "not json"}},
		{name: "out of range", fc: &fakeCompleter{short: `{"overall_score": 150}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := NewLLM(tt.fc, "m", nil).Evaluate(context.Background(), sampleEntity(), 1)
			require.Equal(t, 70, ev.OverallScore)
			require.Equal(t, "m", ev.Model)
		})
	}
}

func TestLLMEvaluateFull(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{
		full:  "  A long narrative.  ",
		short: `{"overall_score": 64, "product_view": "p", "investor_view": "i", "market_view": "m", "recommendation": "r"}`,
	}
	ev := NewLLM(fc, "m", nil).EvaluateFull(context.Background(), sampleEntity(), 1)
	require.Equal(t, "A long narrative.", ev.FullText)
	require.Equal(t, 64, ev.OverallScore)

	empty := &fakeCompleter{full: "   "}
	ev = NewLLM(empty, "m", nil).EvaluateFull(context.Background(), sampleEntity(), 1)
	require.Contains(t, ev.FullText, "Recommendation: Pilot")
	require.Equal(t, 70, ev.OverallScore)
}

func TestNewPicksFallbackWhenUnconfigured(t *testing.T) {
	t.Parallel()

	ev := New(llm.New(llm.Config{Model: "deepseek-chat"}), nil)
	_, ok := ev.(Fallback)
	require.True(t, ok)
}
