package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initAnalysisMetrics initializes effectiveness analyzer and history source metrics.
func (m *Manager) initAnalysisMetrics(cfg Config) {
	m.analyses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_analyses_total",
			Help: "Total number of effectiveness analyses by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.analysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_analysis_duration_seconds",
			Help:    "Effectiveness analysis duration in seconds",
			Buckets: cfg.SourceDurationBuckets,
		},
		[]string{"operation"},
	)

	m.sourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_source_fetches_total",
			Help: "Total number of outcome history fetches by status",
		},
		[]string{"status"},
	)

	m.sourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_source_fetch_duration_seconds",
			Help:    "Outcome history fetch duration in seconds",
			Buckets: cfg.SourceDurationBuckets,
		},
		[]string{"status"},
	)

	m.sourceRecords = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memopt_source_fetch_records",
			Help:    "Conversation analyses returned per successful fetch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	m.registry.MustRegister(m.analyses)
	m.registry.MustRegister(m.analysisDuration)
	m.registry.MustRegister(m.sourceFetches)
	m.registry.MustRegister(m.sourceDuration)
	m.registry.MustRegister(m.sourceRecords)
}

// RecordAnalysis records one analyzer operation.
func (m *Manager) RecordAnalysis(operation, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.analyses.WithLabelValues(operation, status).Inc()
	m.analysisDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSourceFetch records one call to the outcome history source.
func (m *Manager) RecordSourceFetch(status string, records int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sourceFetches.WithLabelValues(status).Inc()
	m.sourceDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "ok" {
		m.sourceRecords.Observe(float64(records))
	}
}
