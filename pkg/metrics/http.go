package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_http_requests_total",
			Help: "HTTP API requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memopt_http_request_duration_seconds",
			Help:    "HTTP API latency by method, route pattern and status class",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "route", "class"},
	)
	m.httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memopt_http_inflight_requests",
		Help: "HTTP API requests currently being served",
	})
	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpInflight)
}

// statusClass maps "404" to "4xx". Anything unexpected is "other".
func statusClass(status string) string {
	if len(status) != 3 || status[0] < '1' || status[0] > '5' {
		return "other"
	}
	return status[:1] + "xx"
}

// RecordHTTPRequest records a served request. route should be the route
// pattern, not the raw path, to keep user and bot ids out of the labels.
func (m *Manager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	m.RecordHTTPRequestContext(context.Background(), method, route, status, duration)
}

// RecordHTTPRequestContext is RecordHTTPRequest with the request context; a
// sampled span in ctx is attached to the latency observation as an exemplar.
func (m *Manager) RecordHTTPRequestContext(ctx context.Context, method, route, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	observe(ctx, m.httpDuration.WithLabelValues(method, route, statusClass(status)), duration.Seconds())
}

// RequestStarted increments the in-flight gauge.
func (m *Manager) RequestStarted() {
	if m.enabled {
		m.httpInflight.Inc()
	}
}

// RequestDone decrements the in-flight gauge.
func (m *Manager) RequestDone() {
	if m.enabled {
		m.httpInflight.Dec()
	}
}

// exemplar returns trace and span ids of a sampled span in ctx.
func exemplar(ctx context.Context) (prometheus.Labels, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil, false
	}
	return prometheus.Labels{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}, true
}

func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if labels, ok := exemplar(ctx); ok {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, labels)
			return
		}
	}
	o.Observe(v)
}
