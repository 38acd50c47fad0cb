// Package metrics holds the Prometheus collectors shared by the engine and
// the HTTP server. They are registered on the default registry by promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts requests by method, path, and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektortree_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HttpRequestDuration measures server response time. Buckets go up to a
	// minute because text searches wait on the embedding and rewrite calls.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektortree_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// InsertsTotal counts vectors inserted into the tree, journal replay included.
	InsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kektortree_inserts_total",
			Help: "Total number of vectors inserted",
		},
	)

	// SearchesTotal counts searches by kind ("vector" or "text").
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektortree_searches_total",
			Help: "Total number of searches executed",
		},
		[]string{"kind"},
	)

	// SearchVisitedNodes is the traversal cost of each search.
	SearchVisitedNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kektortree_search_visited_nodes",
			Help:    "Number of nodes visited per search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// TreeNodes tracks the number of populated nodes.
	TreeNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kektortree_tree_nodes",
			Help: "Number of populated nodes in the tree",
		},
	)

	// TreeMaxDepth tracks the depth of the deepest node, refreshed on save.
	TreeMaxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kektortree_tree_max_depth",
			Help: "Depth of the deepest node at the last save",
		},
	)

	// SaveDuration measures snapshot writes.
	SaveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kektortree_save_duration_seconds",
			Help:    "Duration of snapshot writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EmbedErrorsTotal counts failed calls to the embedding provider.
	EmbedErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kektortree_embed_errors_total",
			Help: "Total number of failed embedding requests",
		},
	)

	// IngestFilesTotal counts files seen by the ingestion pipeline by result
	// ("ingested", "unchanged" or "failed").
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektortree_ingest_files_total",
			Help: "Total number of files processed by the ingestion pipeline",
		},
		[]string{"result"},
	)

	// IngestChunksTotal counts chunks embedded and inserted by ingestion.
	IngestChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kektortree_ingest_chunks_total",
			Help: "Total number of chunks inserted by the ingestion pipeline",
		},
	)
)
