// Package analysis implements radar.Analyzer.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/hash/sha256"
	"github.com/JakeFAU/market-radar/internal/llm"
	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
)

const systemPrompt = "You are a venture capital analyst. Analyze the provided tech news/product. Return JSON only."

const maxContentRunes = 4000

// Completer is the part of llm.Client the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// LLM analyzes records with a chat model.
type LLM struct {
	client Completer
	logger *zap.Logger
}

var _ radar.Analyzer = (*LLM)(nil)

// NewLLM builds an LLM analyzer.
func NewLLM(client Completer, logger *zap.Logger) *LLM {
	return &LLM{client: client, logger: logging.OrNop(logger).Named("analysis")}
}

type analysisJSON struct {
	Summary   string   `json:"summary"`
	Category  string   `json:"category"`
	Score     *int     `json:"score"`
	Reasoning string   `json:"reasoning"`
	Tags      []string `json:"tags"`
}

// Analyze asks the model for a structured assessment. Every failure wraps
// radar.ErrAnalysis.
func (a *LLM) Analyze(ctx context.Context, record radar.RawRecord) (radar.Analysis, error) {
	content, err := a.client.Complete(ctx, llm.Request{
		System: systemPrompt,
		User:   userPrompt(record),
		JSON:   true,
	})
	if err != nil {
		return radar.Analysis{}, fmt.Errorf("%w: %w", radar.ErrAnalysis, err)
	}
	var out analysisJSON
	if err := llm.DecodeJSON(content, &out); err != nil {
		return radar.Analysis{}, fmt.Errorf("%w: %w", radar.ErrAnalysis, err)
	}
	if strings.TrimSpace(out.Summary) == "" || out.Score == nil {
		return radar.Analysis{}, fmt.Errorf("%w: response missing summary or score", radar.ErrAnalysis)
	}
	if *out.Score < 0 || *out.Score > 100 {
		return radar.Analysis{}, fmt.Errorf("%w: score %d out of range", radar.ErrAnalysis, *out.Score)
	}
	a.logger.Debug("analyzed", zap.String("url", record.URL), zap.Int("score", *out.Score))
	return radar.Analysis{
		Summary:   out.Summary,
		Category:  out.Category,
		Score:     *out.Score,
		Reasoning: out.Reasoning,
		Tags:      out.Tags,
	}, nil
}

func userPrompt(record radar.RawRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nURL: %s\n", record.Title, record.URL)
	if content := strings.TrimSpace(record.Content); content != "" {
		runes := []rune(content)
		if len(runes) > maxContentRunes {
			runes = runes[:maxContentRunes]
		}
		fmt.Fprintf(&b, "\nLanding page excerpt:\n%s\n", string(runes))
	}
	b.WriteString("\nAnalyze this and provide: summary, category, score (0-100), reasoning, and tags. ")
	b.WriteString(`Respond with a JSON object with keys "summary" (string), "category" (string), `)
	b.WriteString(`"score" (integer 0-100), "reasoning" (string) and "tags" (array of strings).`)
	return b.String()
}

var (
	heuristicCategories = []string{"GenAI", "DevTool", "SaaS", "FinTech", "HealthTech"}
	heuristicScores     = []int{65, 72, 85, 91, 58}
)

// Heuristic is the offline analyzer used when no model is configured. The
// category and score are stable per URL.
type Heuristic struct{}

var _ radar.Analyzer = Heuristic{}

// Analyze never fails.
func (Heuristic) Analyze(_ context.Context, record radar.RawRecord) (radar.Analysis, error) {
	return radar.Analysis{
		Summary:   fmt.Sprintf("Mock analysis for: %s. A potential market disruptor in its field.", record.Title),
		Category:  heuristicCategories[sha256.Bucket("category:"+record.URL, len(heuristicCategories))],
		Score:     heuristicScores[sha256.Bucket("score:"+record.URL, len(heuristicScores))],
		Reasoning: "Automated mock scoring based on keywords.",
		Tags:      []string{"Startup", "Tech", "MockData"},
	}, nil
}

// New returns the LLM analyzer when client is configured, else Heuristic.
func New(client *llm.Client, logger *zap.Logger) radar.Analyzer {
	if !client.Configured() {
		logging.OrNop(logger).Warn("analysis model not configured, using heuristic analyzer")
		return Heuristic{}
	}
	return NewLLM(client, logger)
}
