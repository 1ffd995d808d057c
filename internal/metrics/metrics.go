package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vodsearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "source_requests_total",
		Help:      "Total upstream requests by source key and outcome.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vodsearch",
		Name:      "source_request_duration_seconds",
		Help:      "Upstream request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
	}, []string{"source"})

	SourceFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "source_failures_total",
		Help:      "Sources reported in a failure manifest, by source key and reason.",
	}, []string{"source", "reason"})

	SourceHealthy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vodsearch",
		Name:      "source_healthy",
		Help:      "Whether the last search task of a source succeeded (1) or failed (0).",
	}, []string{"source"})

	StreamSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vodsearch",
		Name:      "stream_sessions_active",
		Help:      "Number of search sessions currently fanning out to sources.",
	})

	ContentFilteredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vodsearch",
		Name:      "content_filtered_total",
		Help:      "Results dropped by the content filter, by source key.",
	}, []string{"source"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceFailuresTotal,
		SourceHealthy,
		StreamSessionsActive,
		ContentFilteredTotal,
	)
}
