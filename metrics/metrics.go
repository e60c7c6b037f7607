// Package metrics exposes Prometheus collectors for the ingest pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageDuration tracks how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackhub_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "result"},
	)

	// MergeTotal counts merge requests by outcome.
	MergeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackhub_merge_total",
			Help: "Merge requests by result",
		},
		[]string{"result"},
	)

	// TranscodeOutcomes counts transcodes by tagged outcome.
	TranscodeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackhub_transcode_outcomes_total",
			Help: "Transcode results by outcome",
		},
		[]string{"outcome"},
	)

	// ChunksReceived counts staged chunks.
	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackhub_chunks_received_total",
		Help: "Chunks written to staging",
	})

	// ChunkBytes counts bytes written to staging.
	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackhub_chunk_bytes_total",
		Help: "Bytes written to staging",
	})

	// StreamResponses counts stream responses by status code.
	StreamResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackhub_stream_responses_total",
			Help: "Stream responses by HTTP status",
		},
		[]string{"status"},
	)

	// InflightMerges is the number of merges currently holding a lock.
	InflightMerges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackhub_inflight_merges",
		Help: "Merges currently running",
	})

	// SessionsSwept counts abandoned upload sessions removed by the janitor.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackhub_sessions_swept_total",
		Help: "Idle upload sessions removed",
	})
)

// ObserveStage records the elapsed time since start for stage.
func ObserveStage(stage string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StageDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
