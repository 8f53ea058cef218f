package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/version"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 2 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	checks    map[string]CheckFunc
	startedAt time.Time
	draining  atomic.Bool
}

// NewHealthHandler creates a new health handler. Checks are run by /ready
// and /status.
func NewHealthHandler(checks map[string]CheckFunc) *HealthHandler {
	if checks == nil {
		checks = map[string]CheckFunc{}
	}
	return &HealthHandler{checks: checks, startedAt: time.Now()}
}

// SetDraining marks the process as shutting down; /ready then fails so load
// balancers stop routing to it.
func (h *HealthHandler) SetDraining(v bool) {
	h.draining.Store(v)
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status  string                 `json:"status"`
	Uptime  string                 `json:"uptime"`
	Version version.BuildInfo      `json:"version"`
	Checks  map[string]checkResult `json:"checks"`
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	_, ok := h.run(r.Context())
	if ok && !h.draining.Load() {
		response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	results, ok := h.run(r.Context())
	resp := statusResponse{
		Status:  "ok",
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
		Version: version.Get(),
		Checks:  results,
	}
	status := http.StatusOK
	if !ok {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, resp)
}

func (h *HealthHandler) run(ctx context.Context) (map[string]checkResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]checkResult, len(names))
	ok := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = checkResult{Status: "fail", Error: err.Error()}
			ok = false
			continue
		}
		results[name] = checkResult{Status: "ok"}
	}
	return results, ok
}
