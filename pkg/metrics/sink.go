package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSinkMetrics() {
	m.sinkPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memopt_sink_points_total",
			Help: "Total number of time-series points written by measurement",
		},
		[]string{"measurement"},
	)

	m.sinkFields = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memopt_sink_field",
			Help: "Last written value of a numeric time-series field",
		},
		[]string{"measurement", "field", "pattern"},
	)

	m.registry.MustRegister(m.sinkPoints)
	m.registry.MustRegister(m.sinkFields)
}

// Sink exposes the manager as a time-series sink for the analyzer and the
// optimizer. Numeric fields become gauges; user and bot tags are dropped to
// keep label cardinality bounded, only the pattern tag is kept.
type Sink struct {
	m *Manager
}

// Sink returns the manager's time-series sink.
func (m *Manager) Sink() *Sink {
	return &Sink{m: m}
}

// Write records one point.
func (s *Sink) Write(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, _ time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.m.enabled {
		return nil
	}
	s.m.sinkPoints.WithLabelValues(measurement).Inc()

	pattern := tags["pattern"]
	for name, raw := range fields {
		v, ok := toFloat(raw)
		if !ok {
			continue
		}
		s.m.sinkFields.WithLabelValues(measurement, name, pattern).Set(v)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
