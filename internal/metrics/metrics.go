// Package metrics provides Prometheus metrics for plebmtg.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plebmtg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plebmtg_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Analysis Pipeline Metrics
	AnalysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plebmtg_analysis_runs_total",
			Help: "Analysis runs by final status",
		},
		[]string{"status"}, // "succeeded", "failed"
	)

	AnalysisLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plebmtg_analysis_last_success_timestamp_seconds",
			Help: "Unix time of the last successful analysis run",
		},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plebmtg_pipeline_stage_duration_seconds",
			Help:    "Time spent in each analysis stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"stage"}, // "fetch", "transform", "cluster", "regression", "store"
	)

	CardsAnalyzed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plebmtg_cards_analyzed",
			Help: "Number of card/price-direction rows in the last summary view",
		},
	)

	// Clustering Metrics
	ClusterBestK = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plebmtg_cluster_best_k",
			Help: "Number of clusters selected by the elbow rule in the last run",
		},
	)

	ClusterScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plebmtg_cluster_score",
			Help: "Cluster quality score of the last run",
		},
		[]string{"metric"},
	)

	// Regression Metrics
	RegressionSignificantEffects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plebmtg_regression_significant_effects",
			Help: "Significant covariates found in the last run",
		},
		[]string{"model"}, // "gee", "ols"
	)

	// Upstream Metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plebmtg_upstream_requests_total",
			Help: "Requests made to Scryfall and MTGJSON",
		},
		[]string{"source", "result"}, // result: "success" or "failed"
	)

	UpstreamRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plebmtg_upstream_rows",
			Help: "Rows in the last fetched raw dataset",
		},
		[]string{"dataset"},
	)

	// Similar-card Query Metrics
	SimilarCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plebmtg_similar_cache_hits_total",
			Help: "Similar-card query cache hit count",
		},
	)

	SimilarCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plebmtg_similar_cache_misses_total",
			Help: "Similar-card query cache miss count",
		},
	)
)
