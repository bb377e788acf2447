package radar

import (
	"slices"
	"time"
)

// SourceOccurrence records that a source reported an entity under a source-local ID.
type SourceOccurrence struct {
	Source   string `json:"source"`
	SourceID string `json:"source_id"`
}

// Analysis is the one-time enrichment attached when an entity is created.
type Analysis struct {
	Summary   string   `json:"summary"`
	Category  string   `json:"category"`
	Score     int      `json:"score"`
	Reasoning string   `json:"reasoning"`
	Tags      []string `json:"tags"`
}

// MetricObservation is one append-only heat sample for an entity.
type MetricObservation struct {
	RecordedAt time.Time `json:"recorded_at"`
	Value      int64     `json:"value"`
	Rank       *int      `json:"rank,omitempty"`
}

// Evaluation is a versioned, append-only assessment of an entity.
type Evaluation struct {
	Version        int       `json:"version"`
	Model          string    `json:"model"`
	OverallScore   int       `json:"overall_score"`
	ProductView    string    `json:"product_view"`
	InvestorView   string    `json:"investor_view"`
	MarketView     string    `json:"market_view"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      time.Time `json:"created_at"`
	FullText       string    `json:"full_evaluation,omitempty"`
}

// Entity is the canonical, deduplicated item. URL is the normalized identity key.
// Stores return Metrics newest first and Evaluations by ascending version.
type Entity struct {
	ID          string              `json:"id"`
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	Source      string              `json:"source"`
	SourceID    string              `json:"source_id"`
	PublishedAt *time.Time          `json:"publish_date,omitempty"`
	FirstSeen   time.Time           `json:"first_seen_at"`
	LastSeen    time.Time           `json:"last_seen_at"`
	SeenCount   int                 `json:"seen_count"`
	Sources     []SourceOccurrence  `json:"sources"`
	Analysis    *Analysis           `json:"analysis,omitempty"`
	AnalyzedAt  *time.Time          `json:"analyzed_at,omitempty"`
	SnapshotURI string              `json:"snapshot_uri,omitempty"`
	Metrics     []MetricObservation `json:"metrics_history"`
	Evaluations []Evaluation        `json:"evaluations"`
}

// HasSource reports whether the (source, sourceID) pair is already recorded.
func (e Entity) HasSource(occ SourceOccurrence) bool {
	return slices.Contains(e.Sources, occ)
}

// AddSource appends occ unless the pair is already present. It reports whether
// the list changed.
func (e *Entity) AddSource(occ SourceOccurrence) bool {
	if e.HasSource(occ) {
		return false
	}
	e.Sources = append(e.Sources, occ)
	return true
}

// LatestMetric returns the most recently recorded observation, if any.
func (e Entity) LatestMetric() (MetricObservation, bool) {
	if len(e.Metrics) == 0 {
		return MetricObservation{}, false
	}
	latest := e.Metrics[0]
	for _, m := range e.Metrics[1:] {
		if !m.RecordedAt.Before(latest.RecordedAt) {
			latest = m
		}
	}
	return latest, true
}

// AnalysisScore returns the analysis score, or -1 when the entity has none.
func (e Entity) AnalysisScore() int {
	if e.Analysis == nil {
		return -1
	}
	return e.Analysis.Score
}

// Clone returns a deep copy so stores and callers never share slices.
func (e Entity) Clone() Entity {
	out := e
	out.PublishedAt = cloneTime(e.PublishedAt)
	out.AnalyzedAt = cloneTime(e.AnalyzedAt)
	out.Sources = slices.Clone(e.Sources)
	if e.Analysis != nil {
		a := *e.Analysis
		a.Tags = slices.Clone(e.Analysis.Tags)
		out.Analysis = &a
	}
	if e.Metrics != nil {
		out.Metrics = make([]MetricObservation, len(e.Metrics))
		for i, m := range e.Metrics {
			m.Rank = cloneInt(m.Rank)
			out.Metrics[i] = m
		}
	}
	out.Evaluations = slices.Clone(e.Evaluations)
	return out
}

// RawRecord is one item as reported by a source adapter, before identity
// resolution.
type RawRecord struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	SourceID    string     `json:"source_id"`
	PublishedAt *time.Time `json:"publish_date,omitempty"`
	MetricValue int64      `json:"current_metric_value"`
	Rank        *int       `json:"current_rank,omitempty"`
	// Content optionally carries landing page text for the analyzer.
	Content string `json:"raw_content,omitempty"`
}

// Occurrence returns the record's own source occurrence.
func (r RawRecord) Occurrence() SourceOccurrence {
	return SourceOccurrence{Source: r.Source, SourceID: r.SourceID}
}

// Snapshot describes a captured landing page.
type Snapshot struct {
	URI          string `json:"uri"`
	Hash         string `json:"hash"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Excerpt      string `json:"excerpt"`
	StatusCode   int    `json:"status_code"`
	UsedHeadless bool   `json:"used_headless"`
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

// Run status values persisted by the run store.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// SourceStat summarizes one adapter's contribution to a run.
type SourceStat struct {
	Name       string `json:"name"`
	Fetched    int    `json:"fetched"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// RunCounters tracks per-record outcomes for a run.
type RunCounters struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Dropped int `json:"dropped"`
	Failed  int `json:"failed"`
}

// Run is the persisted history of one ingestion run.
type Run struct {
	ID         string       `json:"id"`
	Limit      int          `json:"limit"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Counters   RunCounters  `json:"counters"`
	Sources    []SourceStat `json:"sources"`
	ErrorText  string       `json:"error_text,omitempty"`
}

// Event types published on the events topic.
const (
	EventEntityCreated     = "entity.created"
	EventEvaluationCreated = "evaluation.created"
)

// Event is the payload published when entities or evaluations are created.
type Event struct {
	Type     string    `json:"type"`
	EntityID string    `json:"entity_id"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Score    int       `json:"score"`
	Version  int       `json:"version,omitempty"`
	At       time.Time `json:"at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
