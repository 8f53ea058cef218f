// Package api provides the HTTP surface of memopt.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/goclaw/memopt/config"
	"github.com/goclaw/memopt/pkg/api/handlers"
	"github.com/goclaw/memopt/pkg/api/middleware"
	"github.com/goclaw/memopt/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Optimizer handles the per user/bot optimization endpoints
	Optimizer *handlers.OptimizerHandler

	// Outcomes ingests conversation analyses
	Outcomes *handlers.OutcomeHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.HTTPRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.BodyLimit(cfg.Server.HTTP.MaxBodyBytes))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

	RegisterRoutes(r, h)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		if h.Optimizer != nil {
			r.Route("/users/{userID}/bots/{botID}", func(r chi.Router) {
				r.Post("/optimize", h.Optimizer.Optimize)
				r.Post("/quality", h.Optimizer.Quality)
				r.Get("/effectiveness", h.Optimizer.Effectiveness)
				r.Get("/recommendations", h.Optimizer.Recommendations)
				r.Get("/vector-recommendations", h.Optimizer.VectorRecommendations)
				r.Post("/boosts", h.Optimizer.CreateBoost)
				r.Get("/boosts", h.Optimizer.ListBoosts)
			})
		}

		if h.Outcomes != nil {
			r.Post("/outcomes", h.Outcomes.Record)
		}
	})

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}
}
