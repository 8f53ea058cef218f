// Package metrics exports engine, history source, sink and HTTP
// measurements to Prometheus from a private registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the registry and every collector. A disabled Manager
// accepts all recording calls and drops them.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	optimizations        *prometheus.CounterVec
	optimizationDuration *prometheus.HistogramVec
	optimizationResults  *prometheus.HistogramVec
	adjustments          *prometheus.CounterVec
	stageRuns            *prometheus.CounterVec
	stageDuration        *prometheus.HistogramVec
	cacheLookups         *prometheus.CounterVec
	manualBoosts         *prometheus.CounterVec

	analyses         *prometheus.CounterVec
	analysisDuration *prometheus.HistogramVec
	sourceFetches    *prometheus.CounterVec
	sourceDuration   *prometheus.HistogramVec
	sourceRecords    prometheus.Histogram

	sinkPoints *prometheus.CounterVec
	sinkFields *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInflight prometheus.Gauge
}

type Config struct {
	Enabled bool
	Port    int
	Path    string

	OptimizationDurationBuckets []float64
	StageDurationBuckets        []float64
	SourceDurationBuckets       []float64
	HTTPDurationBuckets         []float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		Port:                        9091,
		Path:                        "/metrics",
		OptimizationDurationBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		StageDurationBuckets:        []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		SourceDurationBuckets:       []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		HTTPDurationBuckets:         []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager registers all collectors plus the Go runtime and process
// collectors. A disabled cfg yields NoOpManager().
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	m := &Manager{registry: prometheus.NewRegistry(), enabled: true}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.initOptimizerMetrics(cfg)
	m.initAnalysisMetrics(cfg)
	m.initSinkMetrics()
	m.initHTTPMetrics(cfg)
	return m
}

// NoOpManager returns a disabled Manager.
func NoOpManager() *Manager {
	return &Manager{}
}

func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry returns the private registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the text or OpenMetrics format. Scrapes
// are themselves counted. A disabled Manager answers 404.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.InstrumentMetricHandler(m.registry,
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          m.registry,
		}),
	)
}

// StartServer serves Handler at path on its own port until ctx is done.
// It returns nil after a clean shutdown and immediately when disabled.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
