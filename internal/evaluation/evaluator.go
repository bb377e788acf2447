// Package evaluation produces versioned entity evaluations and records them.
package evaluation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/llm"
	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/radar"
)

const (
	shortPrompt = "You are a senior product manager + investor + market analyst. " +
		"Given a product, produce a structured JSON with fields: " +
		"overall_score (0-100), product_view, investor_view, market_view, recommendation. " +
		"Be concise but specific."

	fullPrompt = "You are a senior product leader, investor, and market strategist. " +
		"Provide a comprehensive assessment covering:\n" +
		"- Product view: vision, differentiation, UX/tech moat, execution risks.\n" +
		"- Investor view: market size, traction signals, monetization, defendability, funding posture.\n" +
		"- Market view: competitive landscape, timing, regulatory/logistics hurdles, go-to-market angles.\n" +
		"- Recommendation: clear next steps and level of conviction.\n" +
		"Return ONLY a well-structured narrative (not JSON), 4-6 short paragraphs, crisp and actionable."
)

// Fallback returns the fixed evaluation used when no model answers.
type Fallback struct {
	Model string
}

var _ radar.Evaluator = Fallback{}

// Evaluate returns the canned short evaluation.
func (f Fallback) Evaluate(_ context.Context, entity radar.Entity, version int) radar.Evaluation {
	return radar.Evaluation{
		Version:        version,
		Model:          f.Model,
		OverallScore:   70,
		ProductView:    fmt.Sprintf("%s has mid-level product potential; core experience needs refinement.", entity.Title),
		InvestorView:   "Medium risk; observe traction before capital deployment.",
		MarketView:     "Crowded niche; differentiation and distribution are key.",
		Recommendation: "Track metrics; consider investment/push after stronger signals.",
	}
}

// EvaluateFull returns the canned evaluation plus the canned narrative.
func (f Fallback) EvaluateFull(ctx context.Context, entity radar.Entity, version int) radar.Evaluation {
	ev := f.Evaluate(ctx, entity, version)
	ev.FullText = fallbackFullText(entity.Title)
	return ev
}

func fallbackFullText(title string) string {
	return fmt.Sprintf("Product: %s shows promise but needs clearer differentiation and tighter UX.\n", title) +
		"Investor: Market is competitive; watch for early traction and defendability before funding.\n" +
		"Market: Timing is fair, but incumbents exist; leverage GTM niches and partnerships.\n" +
		"Recommendation: Pilot with a focused segment, measure conversion, then decide on scale/invest."
}

// Completer is the part of llm.Client the evaluator needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// LLM evaluates with a chat model and falls back to Fallback on any failure.
type LLM struct {
	client   Completer
	model    string
	fallback Fallback
	logger   *zap.Logger
}

var _ radar.Evaluator = (*LLM)(nil)

// NewLLM builds an LLM evaluator for the named model.
func NewLLM(client Completer, model string, logger *zap.Logger) *LLM {
	return &LLM{
		client:   client,
		model:    model,
		fallback: Fallback{Model: model},
		logger:   logging.OrNop(logger).Named("evaluation"),
	}
}

type evaluationJSON struct {
	OverallScore   float64 `json:"overall_score"`
	ProductView    string  `json:"product_view"`
	InvestorView   string  `json:"investor_view"`
	MarketView     string  `json:"market_view"`
	Recommendation string  `json:"recommendation"`
}

// Evaluate requests the structured evaluation.
func (e *LLM) Evaluate(ctx context.Context, entity radar.Entity, version int) radar.Evaluation {
	ev, err := e.evaluate(ctx, entity, version)
	if err != nil {
		e.logger.Error("evaluation failed, using fallback",
			zap.String("entity_id", entity.ID), zap.Int("version", version), zap.Error(err))
		metrics.ObserveEvaluation("short", true)
		return e.fallback.Evaluate(ctx, entity, version)
	}
	metrics.ObserveEvaluation("short", false)
	return ev
}

// EvaluateFull requests a narrative and reuses Evaluate for the structured fields.
func (e *LLM) EvaluateFull(ctx context.Context, entity radar.Entity, version int) radar.Evaluation {
	text, err := e.client.Complete(ctx, llm.Request{System: fullPrompt, User: userPrompt(entity, "Return only the narrative.")})
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty narrative")
	}
	if err != nil {
		e.logger.Error("full evaluation failed, using fallback",
			zap.String("entity_id", entity.ID), zap.Int("version", version), zap.Error(err))
		metrics.ObserveEvaluation("full", true)
		return e.fallback.EvaluateFull(ctx, entity, version)
	}
	metrics.ObserveEvaluation("full", false)
	ev := e.Evaluate(ctx, entity, version)
	ev.FullText = strings.TrimSpace(text)
	return ev
}

func (e *LLM) evaluate(ctx context.Context, entity radar.Entity, version int) (radar.Evaluation, error) {
	content, err := e.client.Complete(ctx, llm.Request{
		System: shortPrompt,
		User:   userPrompt(entity, "Return only the JSON."),
		JSON:   true,
	})
	if err != nil {
		return radar.Evaluation{}, err
	}
	var out evaluationJSON
	if err := llm.DecodeJSON(content, &out); err != nil {
		return radar.Evaluation{}, err
	}
	score := int(out.OverallScore)
	if score < 0 || score > 100 {
		return radar.Evaluation{}, fmt.Errorf("overall_score %d out of range", score)
	}
	return radar.Evaluation{
		Version:        version,
		Model:          e.model,
		OverallScore:   score,
		ProductView:    out.ProductView,
		InvestorView:   out.InvestorView,
		MarketView:     out.MarketView,
		Recommendation: out.Recommendation,
	}, nil
}

func userPrompt(entity radar.Entity, closing string) string {
	sources := make([]string, 0, len(entity.Sources))
	for _, s := range entity.Sources {
		sources = append(sources, s.Source+":"+s.SourceID)
	}
	sort.Strings(sources)
	summary := ""
	if entity.Analysis != nil {
		summary = entity.Analysis.Summary
	}
	return fmt.Sprintf("Title: %s\nURL: %s\nSources: %s\nAI Summary: %s\n%s",
		entity.Title, entity.URL, strings.Join(sources, ", "), summary, closing)
}

// New returns the LLM evaluator when client is configured, else Fallback.
func New(client *llm.Client, logger *zap.Logger) radar.Evaluator {
	if !client.Configured() {
		logging.OrNop(logger).Warn("evaluation model not configured, using fallback evaluator")
		return Fallback{Model: client.Model()}
	}
	return NewLLM(client, client.Model(), logger)
}
