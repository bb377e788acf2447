package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/telemetry"
)

const (
	defaultSourceTimeout = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
)

// Store operations recorded in RecordFailure.Op.
const (
	OpCreate       = "create"
	OpUpdate       = "update"
	OpAppendMetric = "append_metric"
)

// Config bounds a run.
type Config struct {
	// SourceTimeout caps each adapter fetch.
	SourceTimeout time.Duration
	// WriteTimeout caps each store call. Writes ignore caller cancellation.
	WriteTimeout time.Duration
	// Topic receives entity.created events.
	Topic string
}

// Deps are the collaborators of an Orchestrator. Runs, Snapshotter,
// Publisher and Notifier are optional.
type Deps struct {
	Adapters    []radar.SourceAdapter
	Store       radar.EntityStore
	Runs        radar.RunStore
	Analyzer    radar.Analyzer
	Snapshotter radar.Snapshotter
	Publisher   radar.Publisher
	Notifier    radar.Notifier
	Clock       radar.Clock
	IDs         radar.IDGenerator
}

// RecordFailure is a store error for one record. The batch continued past it.
type RecordFailure struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Op     string `json:"op"`
	Err    error  `json:"-"`
}

// MarshalJSON renders Err as a string.
func (f RecordFailure) MarshalJSON() ([]byte, error) {
	type alias RecordFailure
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error"`
	}{alias: alias(f), Error: msg})
}

// Report is the outcome of one run.
type Report struct {
	Run      radar.Run       `json:"run"`
	Entities []radar.Entity  `json:"entities"`
	Failures []RecordFailure `json:"failures"`
}

// Orchestrator executes ingestion runs. At most one run is active at a time.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	running sync.Mutex
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("entity store is required")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = defaultSourceTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("ingest"),
	}, nil
}

// Ingest runs one cycle with the given per-source limit. It returns
// radar.ErrInvalidLimit for limit <= 0 and radar.ErrIngestInProgress when
// another run is active. A failed identity lookup aborts the run; per-record
// store failures are reported in Report.Failures instead.
func (o *Orchestrator) Ingest(ctx context.Context, limit int) (Report, error) {
	if limit <= 0 {
		return Report{}, radar.ErrInvalidLimit
	}
	if !o.running.TryLock() {
		return Report{}, radar.ErrIngestInProgress
	}
	defer o.running.Unlock()
	metrics.SetIngestActive(true)
	defer metrics.SetIngestActive(false)

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", runID), attribute.Int("limit", limit))

	r := &run{
		o:      o,
		ctx:    ctx,
		logger: o.logger.With(zap.String("run_id", runID)),
		report: Report{Run: radar.Run{
			ID:        runID,
			Limit:     limit,
			Status:    radar.RunRunning,
			StartedAt: o.deps.Clock.Now(),
		}, Entities: []radar.Entity{}, Failures: []RecordFailure{}},
		known: make(map[string]radar.Entity),
		index: make(map[string]int),
	}
	r.saveRun()

	err = r.execute(limit)
	r.finish(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.report, err
	}
	span.SetAttributes(
		attribute.Int("created", r.report.Run.Counters.Created),
		attribute.Int("updated", r.report.Run.Counters.Updated),
	)
	return r.report, nil
}

// run holds the state of one cycle. known is the resolution map keyed by
// normalized URL; index maps entity ID to its slot in report.Entities.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	logger  *zap.Logger
	report  Report
	known   map[string]radar.Entity
	index   map[string]int
	created []string
}

func (r *run) execute(limit int) error {
	records := r.fetchAll(limit)
	r.report.Run.Counters.Fetched = len(records)
	if len(records) == 0 {
		return nil
	}

	urls := make([]string, 0, len(records))
	for i := range records {
		records[i].URL = radar.Normalize(records[i].URL)
		urls = append(urls, records[i].URL)
	}

	wctx, cancel := r.writeContext()
	found, err := r.o.deps.Store.FindByURLs(wctx, urls)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve identities: %w", err)
	}
	for url, e := range found {
		r.known[url] = e
	}

	for _, rec := range records {
		if existing, ok := r.known[rec.URL]; ok {
			r.update(existing, rec)
			continue
		}
		r.create(rec)
	}
	r.notify()
	return nil
}

type sourceResult struct {
	records []radar.RawRecord
	stat    radar.SourceStat
}

// fetchAll queries every adapter concurrently and concatenates the results in
// adapter order. A branch that panics or overruns SourceTimeout contributes
// nothing.
func (r *run) fetchAll(limit int) []radar.RawRecord {
	adapters := r.o.deps.Adapters
	results := make([]sourceResult, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = r.fetchOne(a, limit)
			return nil
		})
	}
	_ = g.Wait()

	var records []radar.RawRecord
	for _, res := range results {
		r.report.Run.Sources = append(r.report.Run.Sources, res.stat)
		records = append(records, res.records...)
	}
	return records
}

func (r *run) fetchOne(a radar.SourceAdapter, limit int) sourceResult {
	name := a.Name()
	ctx, cancel := context.WithTimeout(r.ctx, r.o.cfg.SourceTimeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.source")
	defer span.End()
	span.SetAttributes(attribute.String("source", name))

	start := time.Now()
	done := make(chan sourceResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- sourceResult{stat: radar.SourceStat{Error: fmt.Sprintf("panic: %v", p)}}
			}
		}()
		done <- sourceResult{records: a.FetchLatest(ctx, limit)}
	}()

	var res sourceResult
	select {
	case <-ctx.Done():
		res.stat.Error = fmt.Sprintf("abandoned: %v", ctx.Err())
	case res = <-done:
	}
	res.stat.Name = name
	res.stat.Fetched = len(res.records)
	res.stat.DurationMs = time.Since(start).Milliseconds()
	if res.stat.Error != "" {
		span.SetStatus(codes.Error, res.stat.Error)
		r.logger.Warn("source failed", zap.String("source", name), zap.String("error", res.stat.Error))
	}
	span.SetAttributes(attribute.Int("records", res.stat.Fetched))
	return res
}

func (r *run) update(entity radar.Entity, rec radar.RawRecord) {
	next := entity.Clone()
	next.LastSeen = r.o.deps.Clock.Now()
	next.SeenCount++
	next.AddSource(rec.Occurrence())

	if err := r.write(func(ctx context.Context) error { return r.o.deps.Store.Update(ctx, next) }); err != nil {
		r.fail(rec, OpUpdate, err)
		return
	}
	r.known[rec.URL] = next
	r.report.Run.Counters.Updated++
	metrics.ObserveRecord("updated")
	r.appendMetric(next.ID, rec)
	r.track(r.known[rec.URL])
}

func (r *run) create(rec radar.RawRecord) {
	actx := context.WithoutCancel(r.ctx)
	snapURI := r.snapshot(&rec)

	analysis, err := r.o.deps.Analyzer.Analyze(actx, rec)
	if err != nil {
		r.report.Run.Counters.Dropped++
		metrics.ObserveRecord("dropped")
		r.logger.Warn("analysis failed, dropping record",
			zap.String("url", rec.URL), zap.String("source", rec.Source), zap.Error(err))
		return
	}

	id, err := r.o.deps.IDs.NewID()
	if err != nil {
		r.fail(rec, OpCreate, fmt.Errorf("generate entity id: %w", err))
		return
	}
	now := r.o.deps.Clock.Now()
	entity := radar.Entity{
		ID:          id,
		URL:         rec.URL,
		Title:       rec.Title,
		Source:      rec.Source,
		SourceID:    rec.SourceID,
		PublishedAt: rec.PublishedAt,
		FirstSeen:   now,
		LastSeen:    now,
		SeenCount:   1,
		Sources:     []radar.SourceOccurrence{rec.Occurrence()},
		Analysis:    &analysis,
		AnalyzedAt:  radar.TimePtr(now),
		SnapshotURI: snapURI,
	}

	if err := r.write(func(ctx context.Context) error { return r.o.deps.Store.Create(ctx, entity) }); err != nil {
		r.fail(rec, OpCreate, err)
		return
	}
	r.known[rec.URL] = entity
	r.created = append(r.created, entity.ID)
	r.report.Run.Counters.Created++
	metrics.ObserveRecord("created")
	r.logger.Info("entity created",
		zap.String("entity_id", entity.ID), zap.String("url", entity.URL), zap.Int("score", analysis.Score))

	r.appendMetric(entity.ID, rec)
	r.track(r.known[rec.URL])
	r.publishCreated(r.known[rec.URL])
}

// snapshot captures the landing page when enabled. The excerpt feeds the
// analyzer if the source supplied no content.
func (r *run) snapshot(rec *radar.RawRecord) string {
	if r.o.deps.Snapshotter == nil || rec.URL == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.o.cfg.SourceTimeout)
	defer cancel()
	snap, err := r.o.deps.Snapshotter.Capture(ctx, rec.URL)
	if err != nil {
		r.logger.Warn("snapshot failed", zap.String("url", rec.URL), zap.Error(err))
		return ""
	}
	if rec.Content == "" {
		rec.Content = snap.Excerpt
	}
	return snap.URI
}

func (r *run) appendMetric(entityID string, rec radar.RawRecord) {
	obs := radar.MetricObservation{
		RecordedAt: r.o.deps.Clock.Now(),
		Value:      rec.MetricValue,
		Rank:       rec.Rank,
	}
	if err := r.write(func(ctx context.Context) error {
		return r.o.deps.Store.AppendMetric(ctx, entityID, obs)
	}); err != nil {
		r.fail(rec, OpAppendMetric, err)
		return
	}
	e := r.known[rec.URL]
	e.Metrics = append([]radar.MetricObservation{obs}, e.Metrics...)
	r.known[rec.URL] = e
}

// track records e as processed, keeping the first-processed position and the
// latest state.
func (r *run) track(e radar.Entity) {
	if i, ok := r.index[e.ID]; ok {
		r.report.Entities[i] = e
		return
	}
	r.index[e.ID] = len(r.report.Entities)
	r.report.Entities = append(r.report.Entities, e)
}

func (r *run) fail(rec radar.RawRecord, op string, err error) {
	r.report.Failures = append(r.report.Failures, RecordFailure{
		URL:    rec.URL,
		Source: rec.Source,
		Op:     op,
		Err:    err,
	})
	r.report.Run.Counters.Failed++
	metrics.ObserveRecord("failed")
	r.logger.Error("store write failed",
		zap.String("url", rec.URL), zap.String("source", rec.Source), zap.String("op", op), zap.Error(err))
}

func (r *run) write(fn func(ctx context.Context) error) error {
	ctx, cancel := r.writeContext()
	defer cancel()
	return fn(ctx)
}

// writeContext detaches from the caller so a run that started merging
// finishes, while still bounding each store call.
func (r *run) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), r.o.cfg.WriteTimeout)
}

func (r *run) publishCreated(e radar.Entity) {
	if r.o.deps.Publisher == nil {
		return
	}
	payload, err := json.Marshal(radar.Event{
		Type:     radar.EventEntityCreated,
		EntityID: e.ID,
		URL:      e.URL,
		Title:    e.Title,
		Score:    e.AnalysisScore(),
		At:       e.FirstSeen,
	})
	if err != nil {
		r.logger.Warn("marshal entity event", zap.Error(err))
		return
	}
	ctx, cancel := r.writeContext()
	defer cancel()
	if _, err := r.o.deps.Publisher.Publish(ctx, r.o.cfg.Topic, payload); err != nil {
		r.logger.Warn("publish entity event", zap.String("entity_id", e.ID), zap.Error(err))
	}
}

func (r *run) notify() {
	if r.o.deps.Notifier == nil || len(r.created) == 0 {
		return
	}
	entities := make([]radar.Entity, 0, len(r.created))
	for _, id := range r.created {
		entities = append(entities, r.report.Entities[r.index[id]])
	}
	ctx, cancel := r.writeContext()
	defer cancel()
	if err := r.o.deps.Notifier.NotifyCreated(ctx, entities); err != nil {
		r.logger.Warn("notify failed", zap.Int("entities", len(entities)), zap.Error(err))
	}
}

func (r *run) finish(runErr error) {
	now := r.o.deps.Clock.Now()
	r.report.Run.FinishedAt = &now
	r.report.Run.Status = r.status(runErr)
	if runErr != nil {
		r.report.Run.ErrorText = runErr.Error()
	}
	r.saveRun()

	c := r.report.Run.Counters
	metrics.ObserveRun(string(r.report.Run.Status), now.Sub(r.report.Run.StartedAt))
	fields := []zap.Field{
		zap.String("status", string(r.report.Run.Status)),
		zap.Int("fetched", c.Fetched),
		zap.Int("created", c.Created),
		zap.Int("updated", c.Updated),
		zap.Int("dropped", c.Dropped),
		zap.Int("failed", c.Failed),
	}
	if runErr != nil {
		r.logger.Error("ingest run aborted", append(fields, zap.Error(runErr))...)
		return
	}
	r.logger.Info("ingest run finished", fields...)
}

func (r *run) status(runErr error) radar.RunStatus {
	if runErr != nil {
		return radar.RunError
	}
	if len(r.report.Failures) > 0 {
		return radar.RunPartial
	}
	for _, s := range r.report.Run.Sources {
		if s.Error != "" {
			return radar.RunPartial
		}
	}
	return radar.RunSuccess
}

func (r *run) saveRun() {
	if r.o.deps.Runs == nil {
		return
	}
	ctx, cancel := r.writeContext()
	defer cancel()
	if err := r.o.deps.Runs.SaveRun(ctx, r.report.Run); err != nil {
		r.logger.Warn("save run failed", zap.String("status", string(r.report.Run.Status)), zap.Error(err))
	}
}
