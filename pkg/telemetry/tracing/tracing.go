// Package tracing sets up the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goclaw/memopt/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"
)

// Config configures trace export.
type Config struct {
	Enabled  bool
	Exporter string // otlpgrpc (alias otlp)
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration
	// Sampler is always_on, always_off, traceidratio or
	// parentbased_traceidratio (the default).
	Sampler     string
	SampleRate  float64
	Environment string
}

// ShutdownFunc flushes pending spans and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// exporters builds a span exporter per supported Exporter value.
var exporters = map[string]func(ctx context.Context, endpoint string, cfg Config) (sdktrace.SpanExporter, error){
	"otlpgrpc": newGRPCExporter,
	"otlp":     newGRPCExporter,
}

func newGRPCExporter(ctx context.Context, endpoint string, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// failureLogInterval bounds how often a failing collector is logged.
const failureLogInterval = time.Minute

// droppingExporter swallows export errors so a collector outage never
// reaches the optimizer. Lost spans are counted and logged at most once per
// failureLogInterval.
type droppingExporter struct {
	sdktrace.SpanExporter
	endpoint string
	dropped  atomic.Int64
	limiter  *rate.Limiter
	report   func(err error, endpoint string, dropped int64)
}

func newDroppingExporter(exp sdktrace.SpanExporter, endpoint string) *droppingExporter {
	return &droppingExporter{
		SpanExporter: exp,
		endpoint:     endpoint,
		limiter:      rate.NewLimiter(rate.Every(failureLogInterval), 1),
		report: func(err error, endpoint string, dropped int64) {
			logger.Warn("Trace export failed, dropping spans",
				"endpoint", endpoint,
				"dropped_total", dropped,
				"error", err,
			)
		},
	}
}

func (e *droppingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.SpanExporter.ExportSpans(ctx, spans)
	if err == nil {
		return nil
	}
	total := e.dropped.Add(int64(len(spans)))
	if e.limiter.Allow() {
		e.report(err, e.endpoint, total)
	}
	return nil
}

// Dropped returns the number of spans lost to export failures.
func (e *droppingExporter) Dropped() int64 {
	return e.dropped.Load()
}

// Init installs the global tracer provider and the W3C trace context and
// baggage propagators. Disabled tracing installs a no-op provider and a
// ShutdownFunc that does nothing.
func Init(ctx context.Context, cfg Config, serviceName, serviceVersion string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	tp, err := newProvider(ctx, cfg, serviceName, serviceVersion)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(
			wrap("flush tracing provider", tp.ForceFlush(ctx)),
			wrap("shutdown tracing provider", tp.Shutdown(ctx)),
		)
	}, nil
}

func newProvider(ctx context.Context, cfg Config, serviceName, serviceVersion string) (*sdktrace.TracerProvider, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	factory, ok := exporters[kind]
	switch {
	case kind == "":
		return nil, errors.New("tracing exporter cannot be empty")
	case !ok:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	case cfg.Timeout <= 0:
		return nil, errors.New("tracing timeout must be > 0")
	}
	endpoint := normalizeEndpoint(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("tracing endpoint cannot be empty")
	}

	exp, err := factory(ctx, endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", kind, err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg, serviceName, serviceVersion)...))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(newDroppingExporter(exp, endpoint)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	), nil
}

func wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func resourceAttributes(cfg Config, serviceName, serviceVersion string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(host))
	}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(env))
	}
	return attrs
}

func selectSampler(cfg Config) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.SampleRate)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// normalizeEndpoint reduces a URL to host:port, which is what the gRPC
// exporter expects.
func normalizeEndpoint(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
