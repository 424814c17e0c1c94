// Package metrics exposes Prometheus collectors for the catalog pipeline.
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
	ingestRecordsTotal         *prometheus.CounterVec
	snapshotsPrunedTotal       prometheus.Counter
	ingestRunsTotal            *prometheus.CounterVec
	ingestRunDurationSeconds   prometheus.Histogram
	spiderPagesTotal           *prometheus.CounterVec
	spiderBytesTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitedTotal           prometheus.Counter
	exportsTotal               *prometheus.CounterVec
	exportRowsTotal            prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		snapshotsPrunedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_snapshots_pruned_total",
				Help: "Total number of snapshots evicted by the retention bound.",
			},
		)

		ingestRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Total number of ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		ingestRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_run_duration_seconds",
				Help:    "Histogram of ingestion run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		spiderPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		spiderBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spider_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Total number of API requests rejected by the rate limiter.",
			},
		)

		exportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_exports_total",
				Help: "Total number of catalog CSV exports, labeled by status.",
			},
			[]string{"status"},
		)

		exportRowsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_export_rows_total",
				Help: "Total number of book rows written to CSV exports.",
			},
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
	Init()
	return promhttp.Handler()
}

// ObserveIngestRecord counts one record outcome.
func ObserveIngestRecord(outcome string) {
	Init()
	if outcome == "" {
		outcome = "unknown"
	}
	ingestRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSnapshotsPruned adds evicted snapshots.
func ObserveSnapshotsPruned(n int64) {
	Init()
	if n > 0 {
		snapshotsPrunedTotal.Add(float64(n))
	}
}

// ObserveIngestRun records a finished run.
func ObserveIngestRun(status string, duration time.Duration) {
	Init()
	ingestRunsTotal.WithLabelValues(status).Inc()
	ingestRunDurationSeconds.Observe(duration.Seconds())
}

// ObservePage increments the spider metrics.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	spiderPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		spiderBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimited counts a request rejected with 429.
func ObserveRateLimited() {
	Init()
	rateLimitedTotal.Inc()
}

// ObserveExport records one export attempt and the rows it wrote.
func ObserveExport(status string, rows int) {
	Init()
	exportsTotal.WithLabelValues(status).Inc()
	if rows > 0 {
		exportRowsTotal.Add(float64(rows))
	}
}
