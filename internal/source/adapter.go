// Package source turns error-returning source clients into radar.SourceAdapter
// values whose failures never leave the adapter boundary.
package source

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/radar"
	"github.com/JakeFAU/market-radar/internal/telemetry"
)

// Fetcher is implemented by each source client.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]radar.RawRecord, error)
}

// Adapter isolates a Fetcher: errors, timeouts and panics are logged and
// counted and the caller sees an empty list.
type Adapter struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *zap.Logger
}

var _ radar.SourceAdapter = (*Adapter)(nil)

// NewAdapter wraps f. A non-positive timeout means only the caller's context
// bounds the fetch.
func NewAdapter(f Fetcher, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		fetcher: f,
		timeout: timeout,
		logger:  logging.OrNop(logger).Named("source").With(zap.String("source", f.Name())),
	}
}

// Name returns the source label.
func (a *Adapter) Name() string {
	return a.fetcher.Name()
}

// FetchLatest returns up to limit records, or nil on any failure.
func (a *Adapter) FetchLatest(ctx context.Context, limit int) []radar.RawRecord {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	ctx, span := telemetry.Tracer().Start(ctx, "source.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("source", a.Name()), attribute.Int("limit", limit))

	start := time.Now()
	records, err := a.fetch(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("source fetch failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		metrics.ObserveSourceFetch(a.Name(), "error", 0)
		return nil
	}
	if len(records) > limit {
		records = records[:limit]
	}
	for i := range records {
		if records[i].Source == "" {
			records[i].Source = a.Name()
		}
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	a.logger.Info("source fetched", zap.Int("records", len(records)), zap.Duration("elapsed", time.Since(start)))
	metrics.ObserveSourceFetch(a.Name(), "ok", len(records))
	return records
}

type fetchResult struct {
	records []radar.RawRecord
	err     error
}

// fetch runs the client on its own goroutine so a client that ignores its
// context cannot hold the caller past the deadline.
func (a *Adapter) fetch(ctx context.Context, limit int) ([]radar.RawRecord, error) {
	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		records, err := a.fetcher.Fetch(ctx, limit)
		done <- fetchResult{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("source fetch abandoned: %w", ctx.Err())
	case res := <-done:
		return res.records, res.err
	}
}
