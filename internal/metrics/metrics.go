// Package metrics exposes Prometheus collectors for the crawl and pipeline
// stages, plus a small chi-served /metrics endpoint for long-running crawls.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal      *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	rowsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manganews_pages_total",
				Help: "Total pages fetched by the crawler, labeled by dataset.",
			},
			[]string{"dataset"},
		)
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manganews_records_total",
				Help: "Total records emitted by the crawler, labeled by dataset.",
			},
			[]string{"dataset"},
		)
		violationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manganews_validation_violations_total",
				Help: "Total expectation violations reported, labeled by dataset.",
			},
			[]string{"dataset"},
		)
		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "manganews_imported_rows_total",
				Help: "Total rows handled by the importer, labeled by dataset and outcome.",
			},
			[]string{"dataset", "outcome"},
		)
	})
}

// PageFetched records one crawled page.
func PageFetched(dataset string) {
	if pagesTotal != nil {
		pagesTotal.WithLabelValues(dataset).Inc()
	}
}

// RecordEmitted records one crawled record.
func RecordEmitted(dataset string) {
	if recordsTotal != nil {
		recordsTotal.WithLabelValues(dataset).Inc()
	}
}

// ViolationsReported adds n validation violations for a dataset.
func ViolationsReported(dataset string, n int) {
	if violationsTotal != nil && n > 0 {
		violationsTotal.WithLabelValues(dataset).Add(float64(n))
	}
}

// RowsImported adds n importer rows for an outcome (staged, promoted,
// purged, skipped).
func RowsImported(dataset, outcome string, n int64) {
	if rowsTotal != nil && n > 0 {
		rowsTotal.WithLabelValues(dataset, outcome).Add(float64(n))
	}
}

// NewServer returns an HTTP server exposing /metrics on addr.
// The caller owns its lifecycle.
func NewServer(addr string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
