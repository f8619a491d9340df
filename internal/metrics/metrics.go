// Package metrics registers the service's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmap_feed_batches_total",
		Help: "Pin batches received from the feed, by source.",
	}, []string{"source"})
	FeedDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmap_feed_decode_errors_total",
		Help: "Feed payloads dropped because they were not a JSON array of pins.",
	}, []string{"source"})
	FeedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmap_feed_records",
		Help: "Records in the most recent feed batch.",
	})
	Recomputations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dealmap_recomputations_total",
		Help: "Feature set recomputations across all sessions.",
	})
	RecomputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dealmap_recompute_latency_seconds",
		Help:    "Time spent computing one feature set.",
		Buckets: prometheus.DefBuckets,
	})
	RejectedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmap_rejected_records_total",
		Help: "Feed records without usable coordinates, counted once per batch.",
	}, []string{"reason"})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dealmap_active_sessions",
		Help: "Open map sessions.",
	})
	AssetLoadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dealmap_asset_load_failures_total",
		Help: "Pictogram assets that failed to load.",
	}, []string{"pictogram"})
)

// ObserveRecompute records the latency of one recomputation.
func ObserveRecompute(start time.Time) {
	Recomputations.Inc()
	RecomputeLatency.Observe(time.Since(start).Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
