// Package metrics exposes Prometheus collectors for the radar service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	sourceFetchTotal           *prometheus.CounterVec
	sourceRecordsTotal         *prometheus.CounterVec
	ingestRecordsTotal         *prometheus.CounterVec
	ingestRunsTotal            *prometheus.CounterVec
	ingestRunDurationSeconds   prometheus.Histogram
	ingestActive               prometheus.Gauge
	evaluationsTotal           *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)

		sourceFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_source_fetch_total",
				Help: "Source adapter fetches, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		sourceRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_source_records_total",
				Help: "Raw records returned by source adapters.",
			},
			[]string{"source"},
		)

		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_ingest_records_total",
				Help: "Records processed by ingestion, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_ingest_runs_total",
				Help: "Completed ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		ingestRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "radar_ingest_run_duration_seconds",
				Help:    "Wall time of ingestion runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		ingestActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "radar_ingest_active",
				Help: "1 while an ingestion run is in progress.",
			},
		)

		evaluationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_evaluations_total",
				Help: "Evaluations created, labeled by mode and whether the fallback answered.",
			},
			[]string{"mode", "fallback"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radar_snapshots_total",
				Help: "Landing page snapshots, labeled by fetch mode and result.",
			},
			[]string{"mode", "result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "radar_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSourceFetch records one adapter fetch and the records it returned.
func ObserveSourceFetch(source, result string, records int) {
	Init()
	sourceFetchTotal.WithLabelValues(source, result).Inc()
	if records > 0 {
		sourceRecordsTotal.WithLabelValues(source).Add(float64(records))
	}
}

// ObserveRecord counts a merged record by outcome (created, updated, dropped, failed).
func ObserveRecord(outcome string) {
	Init()
	ingestRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished ingestion run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	ingestRunsTotal.WithLabelValues(status).Inc()
	ingestRunDurationSeconds.Observe(duration.Seconds())
}

// SetIngestActive flips the in-progress gauge.
func SetIngestActive(active bool) {
	Init()
	if active {
		ingestActive.Set(1)
		return
	}
	ingestActive.Set(0)
}

// ObserveEvaluation counts an evaluation by mode ("short" or "full").
func ObserveEvaluation(mode string, fallback bool) {
	Init()
	evaluationsTotal.WithLabelValues(mode, strconv.FormatBool(fallback)).Inc()
}

// ObserveSnapshot counts a snapshot capture.
func ObserveSnapshot(mode, result string) {
	Init()
	snapshotsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
