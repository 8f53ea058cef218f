package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder receives per-request measurements. The request context is
// passed so recorders can attach trace exemplars.
type HTTPRecorder interface {
	RecordHTTPRequestContext(ctx context.Context, method, route, status string, duration time.Duration)
	RequestStarted()
	RequestDone()
}

// unmatchedRoute labels requests chi could not route.
const unmatchedRoute = "unmatched"

// Metrics records latency, status and in-flight count per route. The
// scrape endpoint itself is not measured.
func Metrics(recorder HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.RequestStarted()
			defer recorder.RequestDone()

			sw := wrapWriter(w)
			status := http.StatusInternalServerError
			defer func() {
				recorder.RecordHTTPRequestContext(r.Context(), r.Method, metricsRoute(r), strconv.Itoa(status), time.Since(start))
			}()

			next.ServeHTTP(sw, r)
			status = sw.Status()
		})
	}
}

// metricsRoute keeps user and bot ids out of label values: the chi route
// pattern when routed, "unmatched" for chi misses and a normalized path
// outside chi.
func metricsRoute(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
		return unmatchedRoute
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces UUID and numeric segments with ":id".
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
