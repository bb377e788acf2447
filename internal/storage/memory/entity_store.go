// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/JakeFAU/market-radar/internal/radar"
)

// EntityStore keeps entities and run history in maps guarded by a RWMutex.
// Values are deep-copied in and out.
type EntityStore struct {
	mu       sync.RWMutex
	entities map[string]radar.Entity
	byURL    map[string]string
	runs     map[string]radar.Run
}

var (
	_ radar.EntityStore = (*EntityStore)(nil)
	_ radar.RunStore    = (*EntityStore)(nil)
)

// NewEntityStore constructs an empty store.
func NewEntityStore() *EntityStore {
	return &EntityStore{
		entities: make(map[string]radar.Entity),
		byURL:    make(map[string]string),
		runs:     make(map[string]radar.Run),
	}
}

// FindByURLs returns the stored entities keyed by URL.
func (s *EntityStore) FindByURLs(_ context.Context, urls []string) (map[string]radar.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]radar.Entity, len(urls))
	for _, u := range urls {
		if id, ok := s.byURL[u]; ok {
			out[u] = s.read(id)
		}
	}
	return out, nil
}

// Create inserts a new entity. The URL and ID must both be unused.
func (s *EntityStore) Create(_ context.Context, entity radar.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[entity.URL]; ok {
		return fmt.Errorf("entity url %q: %w", entity.URL, radar.ErrAlreadyExists)
	}
	if _, ok := s.entities[entity.ID]; ok {
		return fmt.Errorf("entity %s: %w", entity.ID, radar.ErrAlreadyExists)
	}
	s.entities[entity.ID] = entity.Clone()
	s.byURL[entity.URL] = entity.ID
	return nil
}

// Update overwrites the mutable fields; metric and evaluation history is kept.
func (s *EntityStore) Update(_ context.Context, entity radar.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entities[entity.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entity.ID, radar.ErrNotFound)
	}
	updated := entity.Clone()
	updated.URL = existing.URL
	updated.Metrics = existing.Metrics
	updated.Evaluations = existing.Evaluations
	s.entities[entity.ID] = updated
	return nil
}

// AppendMetric appends an observation to the entity's history.
func (s *EntityStore) AppendMetric(_ context.Context, entityID string, metric radar.MetricObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
	}
	m := metric
	if metric.Rank != nil {
		m.Rank = radar.IntPtr(*metric.Rank)
	}
	e.Metrics = append(e.Metrics, m)
	s.entities[entityID] = e
	return nil
}

// AppendEvaluation appends an evaluation to the entity's history.
func (s *EntityStore) AppendEvaluation(_ context.Context, entityID string, evaluation radar.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
	}
	e.Evaluations = append(e.Evaluations, evaluation)
	s.entities[entityID] = e
	return nil
}

// CountEvaluations returns the number of stored evaluations.
func (s *EntityStore) CountEvaluations(_ context.Context, entityID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[entityID]
	if !ok {
		return 0, fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
	}
	return len(e.Evaluations), nil
}

// Get fetches an entity by ID.
func (s *EntityStore) Get(_ context.Context, id string) (radar.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[id]; !ok {
		return radar.Entity{}, fmt.Errorf("entity %s: %w", id, radar.ErrNotFound)
	}
	return s.read(id), nil
}

// List returns a sorted page of entities. A non-positive limit returns all.
func (s *EntityStore) List(_ context.Context, opts radar.ListOptions) ([]radar.Entity, error) {
	key := opts.Sort
	if key == "" {
		key = radar.SortScore
	}
	if !radar.ValidSort(key) {
		return nil, fmt.Errorf("unknown sort key %q", key)
	}
	s.mu.RLock()
	all := make([]radar.Entity, 0, len(s.entities))
	for id := range s.entities {
		all = append(all, s.read(id))
	}
	s.mu.RUnlock()

	SortEntities(all, key)
	return page(all, opts.Limit, opts.Offset), nil
}

// ListEvaluations returns the evaluation history by ascending version.
func (s *EntityStore) ListEvaluations(_ context.Context, entityID string) ([]radar.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entities[entityID]; !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, radar.ErrNotFound)
	}
	return s.read(entityID).Evaluations, nil
}

// SaveRun inserts or replaces a run.
func (s *EntityStore) SaveRun(_ context.Context, run radar.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Sources = append([]radar.SourceStat(nil), run.Sources...)
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *EntityStore) GetRun(_ context.Context, id string) (radar.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return radar.Run{}, fmt.Errorf("run %s: %w", id, radar.ErrNotFound)
	}
	run.Sources = append([]radar.SourceStat(nil), run.Sources...)
	return run, nil
}

// ListRuns returns runs newest first.
func (s *EntityStore) ListRuns(_ context.Context, limit, offset int) ([]radar.Run, error) {
	s.mu.RLock()
	runs := make([]radar.Run, 0, len(s.runs))
	for _, r := range s.runs {
		r.Sources = append([]radar.SourceStat(nil), r.Sources...)
		runs = append(runs, r)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return page(runs, limit, offset), nil
}

// Ping always succeeds.
func (s *EntityStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *EntityStore) Close() error {
	return nil
}

// read returns a copy with metrics newest first; equal timestamps keep the
// latest append first. Callers hold the lock.
func (s *EntityStore) read(id string) radar.Entity {
	e := s.entities[id].Clone()
	slices.Reverse(e.Metrics)
	sort.SliceStable(e.Metrics, func(i, j int) bool {
		return e.Metrics[i].RecordedAt.After(e.Metrics[j].RecordedAt)
	})
	sort.SliceStable(e.Evaluations, func(i, j int) bool {
		return e.Evaluations[i].Version < e.Evaluations[j].Version
	})
	return e
}

// SortEntities orders entities by key, descending, with entities lacking the
// key's value last. Ties fall back to last seen descending then ID.
func SortEntities(entities []radar.Entity, key string) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		ka, kb := sortValue(a, key), sortValue(b, key)
		if ka != kb {
			return ka > kb
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
}

func sortValue(e radar.Entity, key string) int64 {
	switch key {
	case radar.SortLastSeen:
		return e.LastSeen.UnixNano()
	case radar.SortFirstSeen:
		return e.FirstSeen.UnixNano()
	case radar.SortSeenCount:
		return int64(e.SeenCount)
	case radar.SortMetric:
		if m, ok := e.LatestMetric(); ok {
			return m.Value
		}
		return -1
	default:
		return int64(e.AnalysisScore())
	}
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
