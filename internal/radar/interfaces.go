package radar

import (
	"context"
	"io"
	"net/http"
	"time"
)

// SourceAdapter pulls the latest items from one external source. It never
// fails: any error is absorbed and surfaces as an empty list.
type SourceAdapter interface {
	Name() string
	FetchLatest(ctx context.Context, limit int) []RawRecord
}

// Analyzer produces the one-time enrichment for a newly discovered entity.
// Failures wrap ErrAnalysis.
type Analyzer interface {
	Analyze(ctx context.Context, record RawRecord) (Analysis, error)
}

// Evaluator produces a versioned evaluation. Implementations always return a
// usable result.
type Evaluator interface {
	Evaluate(ctx context.Context, entity Entity, version int) Evaluation
	EvaluateFull(ctx context.Context, entity Entity, version int) Evaluation
}

// Sort keys accepted by EntityStore.List.
const (
	SortScore     = "score"
	SortLastSeen  = "last_seen"
	SortFirstSeen = "first_seen"
	SortSeenCount = "seen_count"
	SortMetric    = "metric"
)

// ValidSort reports whether key is a known entity sort key.
func ValidSort(key string) bool {
	switch key {
	case SortScore, SortLastSeen, SortFirstSeen, SortSeenCount, SortMetric:
		return true
	default:
		return false
	}
}

// ListOptions controls pagination and ordering for entity listings.
type ListOptions struct {
	Sort   string
	Limit  int
	Offset int
}

// EntityStore persists entities and their append-only histories.
type EntityStore interface {
	// FindByURLs returns the stored entities keyed by normalized URL. Missing
	// URLs are absent from the map.
	FindByURLs(ctx context.Context, urls []string) (map[string]Entity, error)
	Create(ctx context.Context, entity Entity) error
	// Update persists the mutable scalar fields and the occurrence list.
	Update(ctx context.Context, entity Entity) error
	AppendMetric(ctx context.Context, entityID string, metric MetricObservation) error
	AppendEvaluation(ctx context.Context, entityID string, evaluation Evaluation) error
	CountEvaluations(ctx context.Context, entityID string) (int, error)
	Get(ctx context.Context, id string) (Entity, error)
	List(ctx context.Context, opts ListOptions) ([]Entity, error)
	ListEvaluations(ctx context.Context, entityID string) ([]Evaluation, error)
	Ping(ctx context.Context) error
	Close() error
}

// RunStore persists ingestion run history.
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
}

// Publisher emits events to a topic and returns the broker message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// Notifier receives the entities created by a run.
type Notifier interface {
	NotifyCreated(ctx context.Context, entities []Entity) error
}

// BlobStore persists snapshot bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Snapshotter captures a landing page for a newly discovered URL.
type Snapshotter interface {
	Capture(ctx context.Context, url string) (Snapshot, error)
}

// FetchResponse is the result of a page fetch.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Headers      http.Header
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator returns unique IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) string
}
