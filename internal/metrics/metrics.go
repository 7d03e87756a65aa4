// Package metrics holds the prometheus collectors shared by the fetch and load
// commands.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search API requests by result: success, retry, exhausted.
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_requests_total",
			Help: "Search API page requests by result",
		},
		[]string{"result"},
	)

	// Failed search API attempts by type: network, 4xx, 5xx, invalid.
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_errors_total",
			Help: "Failed search API attempts by failure type",
		},
		[]string{"type"},
	)

	FetchPageSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_page_seconds",
			Help:    "Latency of successful page requests, retries included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	PagesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_fetch_pages_written_total",
			Help: "Pages durably appended to the record stream",
		},
	)

	// Records seen by the fetcher: emitted or dropped.
	FetchRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_records_total",
			Help: "Records seen by the fetcher by result",
		},
		[]string{"result"},
	)

	// Loader lines by outcome: written, skipped, failed, rolled_back.
	LoadLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_load_lines_total",
			Help: "Loader input lines by outcome",
		},
		[]string{"outcome"},
	)

	LoadCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_load_commits_total",
			Help: "Loader batch commits by result",
		},
		[]string{"result"},
	)

	LookupRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_lookup_rows_total",
			Help: "Filter lookup values by table and result",
		},
		[]string{"table", "result"},
	)
)
