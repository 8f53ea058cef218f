package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initOptimizerMetrics initializes relevance optimizer metrics.
func (m *Manager) initOptimizerMetrics(cfg Config) {
	m.optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_optimizations_total",
			Help: "Total number of retrieval optimizations by status",
		},
		[]string{"status"},
	)

	m.optimizationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_optimization_duration_seconds",
			Help:    "Retrieval optimization duration in seconds",
			Buckets: cfg.OptimizationDurationBuckets,
		},
		[]string{"status"},
	)

	m.optimizationResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_optimization_candidates",
			Help:    "Candidate counts before and after optimization",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"phase"},
	)

	m.adjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_adjustments_total",
			Help: "Total number of score adjustments applied by stage",
		},
		[]string{"stage"},
	)

	m.stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_stage_runs_total",
			Help: "Total number of pipeline stage runs by stage and status",
		},
		[]string{"stage", "status"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: cfg.StageDurationBuckets,
		},
		[]string{"stage"},
	)

	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_cache_lookups_total",
			Help: "Total number of recommendation cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	m.manualBoosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_manual_boosts_total",
			Help: "Total number of memories given a manual boost by pattern",
		},
		[]string{"pattern"},
	)

	m.registry.MustRegister(m.optimizations)
	m.registry.MustRegister(m.optimizationDuration)
	m.registry.MustRegister(m.optimizationResults)
	m.registry.MustRegister(m.adjustments)
	m.registry.MustRegister(m.stageRuns)
	m.registry.MustRegister(m.stageDuration)
	m.registry.MustRegister(m.cacheLookups)
	m.registry.MustRegister(m.manualBoosts)
}

// RecordOptimization records one optimize call.
func (m *Manager) RecordOptimization(status string, candidates, optimized, adjustments int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.optimizations.WithLabelValues(status).Inc()
	m.optimizationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.optimizationResults.WithLabelValues("before").Observe(float64(candidates))
	m.optimizationResults.WithLabelValues("after").Observe(float64(optimized))
}

// RecordStage records one pipeline stage run.
func (m *Manager) RecordStage(stage, status string, adjustments int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stageRuns.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if adjustments > 0 {
		m.adjustments.WithLabelValues(stage).Add(float64(adjustments))
	}
}

// RecordCacheLookup records a cache hit, miss or stale read.
func (m *Manager) RecordCacheLookup(cacheName, result string) {
	if !m.enabled {
		return
	}
	m.cacheLookups.WithLabelValues(cacheName, result).Inc()
}

// RecordManualBoost records a manual boost issued for a pattern.
func (m *Manager) RecordManualBoost(pattern string, memories int) {
	if !m.enabled {
		return
	}
	m.manualBoosts.WithLabelValues(pattern).Add(float64(memories))
}
