package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/goclaw/memopt/pkg/api/middleware"
	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/relevance"
)

// Optimizer is the relevance optimizer surface served over HTTP.
type Optimizer interface {
	OptimizeMemoryRetrieval(ctx context.Context, userID, botID, query string, candidates []memory.Candidate, oc *memory.OptimizationContext) relevance.OptimizationResult
	ApplyQualityScoring(ctx context.Context, candidates []memory.Candidate, userID, botID string) []memory.Candidate
	BoostEffectiveMemories(ctx context.Context, userID, botID string, pattern memory.Pattern, boostFactor float64, reason string) []relevance.VectorOptimization
	ActiveBoosts(ctx context.Context, userID, botID string, pattern memory.Pattern) []relevance.VectorOptimization
	GetOptimizationRecommendations(ctx context.Context, userID, botID string, windowDays int) relevance.VectorRecommendations
}

// Analyzer is the effectiveness analyzer surface served over HTTP.
type Analyzer interface {
	AnalyzeMemoryPerformance(ctx context.Context, userID, botID string, daysBack int) map[memory.Pattern]effectiveness.Metrics
	ScoreMemoryQualities(ctx context.Context, userID, botID string, reqs []effectiveness.QualityRequest) []effectiveness.QualityScore
	GetMemoryOptimizationRecommendations(ctx context.Context, userID, botID string, oc *memory.OptimizationContext) effectiveness.Recommendations
	Config() effectiveness.Config
}

const maxWindowDays = 365

// OptimizerHandler serves the per user/bot optimization endpoints.
type OptimizerHandler struct {
	optimizer Optimizer
	analyzer  Analyzer
	logger    Logger
}

// NewOptimizerHandler creates a new optimizer handler.
func NewOptimizerHandler(opt Optimizer, an Analyzer, log Logger) *OptimizerHandler {
	if log == nil {
		log = nopLogger{}
	}
	return &OptimizerHandler{optimizer: opt, analyzer: an, logger: log}
}

// --- Request/Response types ---

type optimizeRequest struct {
	Query      string                      `json:"query" validate:"max=4096"`
	Candidates []memory.Candidate          `json:"candidates" validate:"max=1000"`
	Context    *memory.OptimizationContext `json:"context,omitempty"`
}

type qualityRequest struct {
	Candidates []memory.Candidate              `json:"candidates,omitempty" validate:"max=1000"`
	Memories   []effectiveness.QualityRequest `json:"memories,omitempty" validate:"max=1000,dive"`
}

type qualityResponse struct {
	Candidates []memory.Candidate           `json:"candidates,omitempty"`
	Scores     []effectiveness.QualityScore `json:"scores,omitempty"`
}

type boostRequest struct {
	Pattern     string  `json:"pattern" validate:"required"`
	BoostFactor float64 `json:"boost_factor" validate:"gt=0"`
	Reason      string  `json:"reason" validate:"max=256"`
}

type boostsResponse struct {
	Boosts []relevance.VectorOptimization `json:"boosts"`
}

type effectivenessResponse struct {
	UserID   string                                   `json:"user_id"`
	BotID    string                                   `json:"bot_id"`
	DaysBack int                                      `json:"days_back"`
	Patterns map[memory.Pattern]effectiveness.Metrics `json:"patterns"`
}

// Optimize handles POST /api/v1/users/{userID}/bots/{botID}/optimize
func (h *OptimizerHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req optimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := h.optimizer.OptimizeMemoryRetrieval(r.Context(), userID, botID, req.Query, req.Candidates, req.Context)
	h.logger.Debug("Optimized retrieval",
		"user_id", userID,
		"bot_id", botID,
		"candidates", len(req.Candidates),
		"optimizations", result.OptimizationCount,
	)
	response.JSON(w, http.StatusOK, result)
}

// Quality handles POST /api/v1/users/{userID}/bots/{botID}/quality
//
// Candidates are re-scored in place; bare memories get their quality scores.
func (h *OptimizerHandler) Quality(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req qualityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Candidates) == 0 && len(req.Memories) == 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
			"candidates or memories is required", middleware.GetRequestID(r.Context()))
		return
	}

	var resp qualityResponse
	if len(req.Candidates) > 0 {
		resp.Candidates = h.optimizer.ApplyQualityScoring(r.Context(), req.Candidates, userID, botID)
	}
	if len(req.Memories) > 0 {
		resp.Scores = h.analyzer.ScoreMemoryQualities(r.Context(), userID, botID, req.Memories)
	}
	response.JSON(w, http.StatusOK, resp)
}

// Effectiveness handles GET /api/v1/users/{userID}/bots/{botID}/effectiveness?days=N
//
// days defaults to the configured analysis window.
func (h *OptimizerHandler) Effectiveness(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	days, ok := intQuery(w, r, "days", maxWindowDays)
	if !ok {
		return
	}
	if days == 0 {
		days = h.analyzer.Config().AnalysisWindowDays
	}

	metrics := h.analyzer.AnalyzeMemoryPerformance(r.Context(), userID, botID, days)
	response.JSON(w, http.StatusOK, effectivenessResponse{
		UserID:   userID,
		BotID:    botID,
		DaysBack: days,
		Patterns: metrics,
	})
}

// Recommendations handles GET /api/v1/users/{userID}/bots/{botID}/recommendations
//
// The optional context, topics (comma separated) and emotional_state query
// parameters describe the conversation in progress.
func (h *OptimizerHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}

	response.JSON(w, http.StatusOK,
		h.analyzer.GetMemoryOptimizationRecommendations(r.Context(), userID, botID, contextFromQuery(r)))
}

// VectorRecommendations handles GET /api/v1/users/{userID}/bots/{botID}/vector-recommendations?window_days=N
func (h *OptimizerHandler) VectorRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	window, ok := intQuery(w, r, "window_days", maxWindowDays)
	if !ok {
		return
	}

	response.JSON(w, http.StatusOK, h.optimizer.GetOptimizationRecommendations(r.Context(), userID, botID, window))
}

// CreateBoost handles POST /api/v1/users/{userID}/bots/{botID}/boosts
func (h *OptimizerHandler) CreateBoost(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	var req boostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pattern, err := memory.ParsePattern(req.Pattern)
	if err != nil {
		response.HandleError(w, err, middleware.GetRequestID(r.Context()))
		return
	}

	ops := h.optimizer.BoostEffectiveMemories(r.Context(), userID, botID, pattern, req.BoostFactor, req.Reason)
	h.logger.Info("Manual boost requested",
		"user_id", userID,
		"bot_id", botID,
		"pattern", pattern,
		"boosted", len(ops),
	)
	response.JSON(w, http.StatusCreated, boostsResponse{Boosts: ops})
}

// ListBoosts handles GET /api/v1/users/{userID}/bots/{botID}/boosts?pattern=P
func (h *OptimizerHandler) ListBoosts(w http.ResponseWriter, r *http.Request) {
	userID, botID, ok := pairFromPath(w, r)
	if !ok {
		return
	}
	pattern, err := memory.ParsePattern(r.URL.Query().Get("pattern"))
	if err != nil {
		response.HandleError(w, err, middleware.GetRequestID(r.Context()))
		return
	}

	ops := h.optimizer.ActiveBoosts(r.Context(), userID, botID, pattern)
	if ops == nil {
		ops = []relevance.VectorOptimization{}
	}
	response.JSON(w, http.StatusOK, boostsResponse{Boosts: ops})
}

func contextFromQuery(r *http.Request) *memory.OptimizationContext {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("context"))
	state := strings.TrimSpace(q.Get("emotional_state"))
	var topics []string
	for _, t := range strings.Split(q.Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if text == "" && state == "" && len(topics) == 0 {
		return nil
	}
	return &memory.OptimizationContext{
		Version:          memory.CurrentContextVersion,
		ConversationText: text,
		Topics:           topics,
		EmotionalState:   state,
	}
}
