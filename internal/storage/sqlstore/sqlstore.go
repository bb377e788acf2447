// Package sqlstore holds the row mapping and query pieces shared by the
// Postgres and SQLite entity stores.
package sqlstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/market-radar/internal/radar"
)

// Table names.
const (
	EntitiesTable    = "entities"
	MetricsTable     = "entity_metrics"
	EvaluationsTable = "entity_evaluations"
	RunsTable        = "ingest_runs"
	MigrationsTable  = "schema_migrations"
)

// EntityColumns is the column list ScanEntity expects, in order.
var EntityColumns = []string{
	"id", "url", "title", "source", "source_id", "published_at",
	"first_seen_at", "last_seen_at", "seen_count", "sources",
	"analysis", "analyzed_at", "snapshot_uri",
}

// EntityInsertColumns is EntityColumns plus the analysis_score sort column.
var EntityInsertColumns = append(append([]string(nil), EntityColumns...), "analysis_score")

// MetricColumns is the column list ScanMetric expects, in order.
var MetricColumns = []string{"entity_id", "recorded_at", "value", "rank"}

// EvaluationColumns is the column list ScanEvaluation expects, in order.
var EvaluationColumns = []string{
	"entity_id", "version", "model", "overall_score", "product_view",
	"investor_view", "market_view", "recommendation", "full_text", "created_at",
}

// RunColumns is the column list ScanRun expects, in order.
var RunColumns = []string{
	"id", "run_limit", "status", "started_at", "finished_at", "counters", "sources", "error_text",
}

// Scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// EntityValues returns the insert values matching EntityInsertColumns.
func EntityValues(e radar.Entity) ([]any, error) {
	sources, analysis, err := encodeEntityJSON(e)
	if err != nil {
		return nil, err
	}
	return []any{
		e.ID, e.URL, e.Title, e.Source, e.SourceID, e.PublishedAt,
		e.FirstSeen, e.LastSeen, e.SeenCount, sources,
		analysis, e.AnalyzedAt, e.SnapshotURI, analysisScore(e),
	}, nil
}

// EntityUpdates returns the mutable columns written by EntityStore.Update.
func EntityUpdates(e radar.Entity) (map[string]any, error) {
	sources, analysis, err := encodeEntityJSON(e)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":          e.Title,
		"published_at":   e.PublishedAt,
		"last_seen_at":   e.LastSeen,
		"seen_count":     e.SeenCount,
		"sources":        sources,
		"analysis":       analysis,
		"analysis_score": analysisScore(e),
		"analyzed_at":    e.AnalyzedAt,
		"snapshot_uri":   e.SnapshotURI,
	}, nil
}

func analysisScore(e radar.Entity) any {
	if e.Analysis == nil {
		return nil
	}
	return e.Analysis.Score
}

func encodeEntityJSON(e radar.Entity) ([]byte, []byte, error) {
	occ := e.Sources
	if occ == nil {
		occ = []radar.SourceOccurrence{}
	}
	sources, err := json.Marshal(occ)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sources: %w", err)
	}
	var analysis []byte
	if e.Analysis != nil {
		if analysis, err = json.Marshal(e.Analysis); err != nil {
			return nil, nil, fmt.Errorf("marshal analysis: %w", err)
		}
	}
	return sources, analysis, nil
}

// ScanEntity reads one row selected with EntityColumns. Histories are left empty.
func ScanEntity(row Scanner) (radar.Entity, error) {
	var (
		e        radar.Entity
		sources  []byte
		analysis []byte
	)
	if err := row.Scan(
		&e.ID, &e.URL, &e.Title, &e.Source, &e.SourceID, &e.PublishedAt,
		&e.FirstSeen, &e.LastSeen, &e.SeenCount, &sources,
		&analysis, &e.AnalyzedAt, &e.SnapshotURI,
	); err != nil {
		return radar.Entity{}, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &e.Sources); err != nil {
			return radar.Entity{}, fmt.Errorf("decode sources: %w", err)
		}
	}
	if len(analysis) > 0 {
		var a radar.Analysis
		if err := json.Unmarshal(analysis, &a); err != nil {
			return radar.Entity{}, fmt.Errorf("decode analysis: %w", err)
		}
		e.Analysis = &a
	}
	e.FirstSeen = e.FirstSeen.UTC()
	e.LastSeen = e.LastSeen.UTC()
	e.PublishedAt = utcPtr(e.PublishedAt)
	e.AnalyzedAt = utcPtr(e.AnalyzedAt)
	return e, nil
}

// ScanMetric reads one row selected with MetricColumns.
func ScanMetric(row Scanner) (string, radar.MetricObservation, error) {
	var (
		entityID string
		m        radar.MetricObservation
		rank     *int64
	)
	if err := row.Scan(&entityID, &m.RecordedAt, &m.Value, &rank); err != nil {
		return "", radar.MetricObservation{}, err
	}
	m.RecordedAt = m.RecordedAt.UTC()
	if rank != nil {
		m.Rank = radar.IntPtr(int(*rank))
	}
	return entityID, m, nil
}

// MetricValues returns the insert values matching MetricColumns.
func MetricValues(entityID string, m radar.MetricObservation) []any {
	var rank any
	if m.Rank != nil {
		rank = int64(*m.Rank)
	}
	return []any{entityID, m.RecordedAt, m.Value, rank}
}

// ScanEvaluation reads one row selected with EvaluationColumns.
func ScanEvaluation(row Scanner) (string, radar.Evaluation, error) {
	var (
		entityID string
		ev       radar.Evaluation
	)
	if err := row.Scan(
		&entityID, &ev.Version, &ev.Model, &ev.OverallScore, &ev.ProductView,
		&ev.InvestorView, &ev.MarketView, &ev.Recommendation, &ev.FullText, &ev.CreatedAt,
	); err != nil {
		return "", radar.Evaluation{}, err
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return entityID, ev, nil
}

// EvaluationValues returns the insert values matching EvaluationColumns.
func EvaluationValues(entityID string, ev radar.Evaluation) []any {
	return []any{
		entityID, ev.Version, ev.Model, ev.OverallScore, ev.ProductView,
		ev.InvestorView, ev.MarketView, ev.Recommendation, ev.FullText, ev.CreatedAt,
	}
}

// RunValues returns the insert values matching RunColumns.
func RunValues(run radar.Run) ([]any, error) {
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, fmt.Errorf("marshal counters: %w", err)
	}
	stats := run.Sources
	if stats == nil {
		stats = []radar.SourceStat{}
	}
	sources, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("marshal source stats: %w", err)
	}
	return []any{
		run.ID, run.Limit, string(run.Status), run.StartedAt, run.FinishedAt,
		counters, sources, run.ErrorText,
	}, nil
}

// ScanRun reads one row selected with RunColumns.
func ScanRun(row Scanner) (radar.Run, error) {
	var (
		run      radar.Run
		status   string
		counters []byte
		sources  []byte
	)
	if err := row.Scan(
		&run.ID, &run.Limit, &status, &run.StartedAt, &run.FinishedAt,
		&counters, &sources, &run.ErrorText,
	); err != nil {
		return radar.Run{}, err
	}
	run.Status = radar.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = utcPtr(run.FinishedAt)
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return radar.Run{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &run.Sources); err != nil {
			return radar.Run{}, fmt.Errorf("decode source stats: %w", err)
		}
	}
	return run, nil
}

// OrderBy returns the ORDER BY terms for an entity sort key. An empty key
// means score.
func OrderBy(key string) ([]string, error) {
	if key == "" {
		key = radar.SortScore
	}
	var primary string
	switch key {
	case radar.SortScore:
		primary = "COALESCE(analysis_score, -1) DESC"
	case radar.SortLastSeen:
		primary = "last_seen_at DESC"
	case radar.SortFirstSeen:
		primary = "first_seen_at DESC"
	case radar.SortSeenCount:
		primary = "seen_count DESC"
	case radar.SortMetric:
		primary = "COALESCE((SELECT m.value FROM " + MetricsTable +
			" m WHERE m.entity_id = " + EntitiesTable + ".id ORDER BY m.recorded_at DESC LIMIT 1), -1) DESC"
	default:
		return nil, fmt.Errorf("unknown sort key %q", key)
	}
	if key == radar.SortLastSeen {
		return []string{primary, "id ASC"}, nil
	}
	return []string{primary, "last_seen_at DESC", "id ASC"}, nil
}

// Page applies limit and offset; a non-positive limit means no limit.
func Page(b sq.SelectBuilder, limit, offset int) sq.SelectBuilder {
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	return b
}

// Migration is one embedded SQL file.
type Migration struct {
	Version string
	SQL     string
}

// LoadMigrations reads dir/*.sql from fsys in lexical order.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: strings.TrimSuffix(name, ".sql"), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Pending filters out the migrations whose versions are already applied.
func Pending(all []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// AttachHistories distributes metric and evaluation rows onto entities by ID.
// Metrics end up newest first and evaluations ascending by version.
func AttachHistories(
	entities []radar.Entity,
	metrics map[string][]radar.MetricObservation,
	evaluations map[string][]radar.Evaluation,
) {
	for i := range entities {
		id := entities[i].ID
		ms := metrics[id]
		sort.SliceStable(ms, func(a, b int) bool { return ms[a].RecordedAt.After(ms[b].RecordedAt) })
		entities[i].Metrics = ms
		evs := evaluations[id]
		sort.SliceStable(evs, func(a, b int) bool { return evs[a].Version < evs[b].Version })
		entities[i].Evaluations = evs
	}
}

// IDs returns the entity IDs in order.
func IDs(entities []radar.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
