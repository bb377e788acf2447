// Package scheduler triggers periodic ingestion runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/radar"
)

// DefaultSpec runs once a day at 10:00.
const DefaultSpec = "0 10 * * *"

// Ingester runs one ingestion cycle.
type Ingester interface {
	Ingest(ctx context.Context, limit int) (ingest.Report, error)
}

// Scheduler runs Ingest on a standard five-field cron spec.
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	ingester Ingester
	limit    int
	logger   *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec in the named timezone ("" means UTC).
func New(ingester Ingester, spec, timezone string, limit int, logger *zap.Logger) (*Scheduler, error) {
	if ingester == nil {
		return nil, errors.New("ingester is required")
	}
	if limit <= 0 {
		return nil, errors.New("ingest.default_limit must be > 0")
	}
	if spec == "" {
		spec = DefaultSpec
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone: %w", err)
		}
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		ingester: ingester,
		limit:    limit,
		logger:   logging.OrNop(logger).Named("scheduler"),
		ctx:      context.Background(),
	}
	id, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.jobContext()) })
	if err != nil {
		return nil, fmt.Errorf("add cron %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing jobs. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next", s.Next()))
}

// Stop halts the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// Next returns the next activation time, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Schedule reports the next activation after t.
func (s *Scheduler) Schedule(t time.Time) time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(t)
}

// RunOnce executes a single scheduled ingest. A run already in progress is
// skipped.
func (s *Scheduler) RunOnce(ctx context.Context) {
	report, err := s.ingester.Ingest(ctx, s.limit)
	switch {
	case errors.Is(err, radar.ErrIngestInProgress):
		s.logger.Info("scheduled ingest skipped, run in progress")
	case err != nil:
		s.logger.Error("scheduled ingest failed", zap.Error(err))
	default:
		s.logger.Info("scheduled ingest finished",
			zap.String("run_id", report.Run.ID),
			zap.String("status", string(report.Run.Status)),
			zap.Int("entities", len(report.Entities)))
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
