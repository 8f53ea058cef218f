package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type recordedRequest struct {
	method, route, status string
	traceID               string
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	inflight int
	peak     int
}

func (f *fakeRecorder) RecordHTTPRequestContext(ctx context.Context, method, route, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr := recordedRequest{method: method, route: route, status: status}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		rr.traceID = sc.TraceID().String()
	}
	f.requests = append(f.requests, rr)
}

func (f *fakeRecorder) RequestStarted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight++
	f.peak = max(f.peak, f.inflight)
}

func (f *fakeRecorder) RequestDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
}

func statusHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func TestMetrics_RecordsStatusAndInflight(t *testing.T) {
	rec := &fakeRecorder{}
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable} {
		w := httptest.NewRecorder()
		Metrics(rec)(statusHandler(status)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/outcomes/42", nil))
		assert.Equal(t, status, w.Code)
	}

	require.Len(t, rec.requests, 3)
	assert.Equal(t, recordedRequest{method: "GET", route: "/api/v1/outcomes/:id", status: "200"}, rec.requests[0])
	assert.Equal(t, "404", rec.requests[1].status)
	assert.Equal(t, "503", rec.requests[2].status)
	assert.Equal(t, 0, rec.inflight)
	assert.Equal(t, 1, rec.peak)
}

func TestMetrics_SkipsScrapeEndpoint(t *testing.T) {
	rec := &fakeRecorder{}
	Metrics(rec)(statusHandler(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Empty(t, rec.requests)
	assert.Zero(t, rec.peak)
}

func TestMetrics_PanicCountsAsServerError(t *testing.T) {
	rec := &fakeRecorder{}
	h := Metrics(rec)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/boom", nil))
	})
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "500", rec.requests[0].status)
	assert.Equal(t, 0, rec.inflight)
}

func TestMetrics_PassesTraceContext(t *testing.T) {
	rec := &fakeRecorder{}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		SpanID:     trace.SpanID{2, 2, 2, 2, 2, 2, 2, 2},
		TraceFlags: trace.FlagsSampled,
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req = req.WithContext(trace.ContextWithSpanContext(req.Context(), sc))

	Metrics(rec)(statusHandler(http.StatusOK)).ServeHTTP(httptest.NewRecorder(), req)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, sc.TraceID().String(), rec.requests[0].traceID)
}

func TestMetrics_UsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Post("/api/v1/users/{userID}/bots/{botID}/optimize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	for _, path := range []string{
		"/api/v1/users/alice/bots/helper/optimize",
		"/api/v1/users/bob/bots/helper/optimize",
		"/api/v1/nowhere",
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	const pattern = "/api/v1/users/{userID}/bots/{botID}/optimize"
	assert.Equal(t, []recordedRequest{
		{method: "POST", route: pattern, status: "200"},
		{method: "POST", route: pattern, status: "200"},
		{method: "POST", route: unmatchedRoute, status: "404"},
	}, rec.requests)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/api/v1/outcomes/123": "/api/v1/outcomes/:id",
		"/api/v1/users/550e8400-e29b-41d4-a716-446655440000/bots/7/optimize": "/api/v1/users/:id/bots/:id/optimize",
		"/api/v1/outcomes": "/api/v1/outcomes",
		"/":                "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}
