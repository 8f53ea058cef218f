package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "memopt.http"

// Span attribute keys specific to memopt.
const (
	AttrRequestID = attribute.Key("memopt.request_id")
	AttrUserID    = attribute.Key("memopt.user_id")
	AttrBotID     = attribute.Key("memopt.bot_id")
)

// TracingOptions configures the HTTP tracing middleware.
type TracingOptions struct {
	// SkipPrefixes are path prefixes served without a span.
	SkipPrefixes []string
	// Provider overrides the global tracer provider.
	Provider trace.TracerProvider
}

// DefaultTracingOptions skips the probe endpoints.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{SkipPrefixes: []string{"/health", "/ready", "/metrics"}}
}

func (o TracingOptions) skip(path string) bool {
	for _, p := range o.SkipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Tracing starts a server span per request, continuing any inbound W3C
// trace context. The span is renamed to the matched route once the handler
// returns, and carries the user and bot ids of per-pair routes.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			provider := opts.Provider
			if provider == nil {
				provider = otel.GetTracerProvider()
			}
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := provider.Tracer(httpTracerName).Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()
			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(AttrRequestID.String(id))
			}

			sw := wrapWriter(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(sw, r)

			route := routePattern(r)
			status := sw.Status()
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", status),
				attribute.Int("http.response.body.size", sw.size),
			)
			if userID, botID := pairParams(r); userID != "" {
				span.SetAttributes(AttrUserID.String(userID), AttrBotID.String(botID))
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(otelcodes.Error, http.StatusText(status))
			} else if status >= http.StatusBadRequest {
				// 4xx leaves the server span status unset.
				span.SetAttributes(attribute.String("error.type", http.StatusText(status)))
			}
		})
	}
}
