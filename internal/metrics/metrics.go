// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts completed fetches by strategy and outcome
	// ("done" or "failed").
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sitemapper_fetches_total",
		Help: "Completed fetches by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// FetchDurationSeconds observes per-fetch latency by strategy.
	FetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sitemapper_fetch_duration_seconds",
		Help:    "Fetch latency by strategy.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"strategy"})

	// RetriesTotal counts fetch retry attempts.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemapper_fetch_retries_total",
		Help: "Total fetch retry attempts.",
	})

	// DiscoveredTotal counts URLs newly added to the frontier.
	DiscoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemapper_urls_discovered_total",
		Help: "URLs newly added to the frontier.",
	})

	// RendersSkippedTotal counts dynamic renders avoided because the
	// URL's pattern signature was already rendered this run.
	RendersSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sitemapper_renders_skipped_total",
		Help: "Dynamic renders skipped by pattern deduplication.",
	})

	// CurrentDepth tracks the depth level the orchestrator is working.
	CurrentDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sitemapper_current_depth",
		Help: "Depth level currently being crawled.",
	})
)
