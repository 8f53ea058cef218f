package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/outcome"
	"github.com/goclaw/memopt/pkg/relevance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOptimizer struct {
	lastQuery   string
	lastContext *memory.OptimizationContext
	lastWindow  int
	lastPattern memory.Pattern
	lastFactor  float64
	boosts      []relevance.VectorOptimization
}

func (f *fakeOptimizer) OptimizeMemoryRetrieval(_ context.Context, _, _, query string, candidates []memory.Candidate, oc *memory.OptimizationContext) relevance.OptimizationResult {
	f.lastQuery = query
	f.lastContext = oc
	return relevance.OptimizationResult{
		OriginalResults:  candidates,
		OptimizedResults: candidates,
	}
}

func (f *fakeOptimizer) ApplyQualityScoring(_ context.Context, candidates []memory.Candidate, _, _ string) []memory.Candidate {
	out := memory.CloneCandidates(candidates)
	for i := range out {
		out[i].Score *= 2
	}
	return out
}

func (f *fakeOptimizer) BoostEffectiveMemories(_ context.Context, _, _ string, pattern memory.Pattern, factor float64, reason string) []relevance.VectorOptimization {
	f.lastPattern = pattern
	f.lastFactor = factor
	return f.boosts
}

func (f *fakeOptimizer) ActiveBoosts(_ context.Context, _, _ string, pattern memory.Pattern) []relevance.VectorOptimization {
	f.lastPattern = pattern
	return nil
}

func (f *fakeOptimizer) GetOptimizationRecommendations(_ context.Context, _, _ string, windowDays int) relevance.VectorRecommendations {
	f.lastWindow = windowDays
	return relevance.VectorRecommendations{WindowDays: windowDays}
}

type fakeAnalyzer struct {
	lastDays    int
	lastContext *memory.OptimizationContext
}

func (f *fakeAnalyzer) AnalyzeMemoryPerformance(_ context.Context, _, _ string, daysBack int) map[memory.Pattern]effectiveness.Metrics {
	f.lastDays = daysBack
	return map[memory.Pattern]effectiveness.Metrics{
		memory.PatternFactualRecall: {Pattern: memory.PatternFactualRecall, UsageCount: 12, SuccessRate: 0.75},
	}
}

func (f *fakeAnalyzer) Config() effectiveness.Config {
	return effectiveness.DefaultConfig()
}

func (f *fakeAnalyzer) ScoreMemoryQualities(_ context.Context, _, _ string, reqs []effectiveness.QualityRequest) []effectiveness.QualityScore {
	out := make([]effectiveness.QualityScore, len(reqs))
	for i, r := range reqs {
		out[i] = effectiveness.NeutralQualityScore(r.MemoryID)
	}
	return out
}

func (f *fakeAnalyzer) GetMemoryOptimizationRecommendations(_ context.Context, _, _ string, oc *memory.OptimizationContext) effectiveness.Recommendations {
	f.lastContext = oc
	return effectiveness.DefaultRecommendations(0.7)
}

func newTestHandler() (*OptimizerHandler, *fakeOptimizer, *fakeAnalyzer) {
	opt := &fakeOptimizer{}
	an := &fakeAnalyzer{}
	return NewOptimizerHandler(opt, an, nil), opt, an
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorResponse {
	t.Helper()
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestOptimizerHandler_Optimize(t *testing.T) {
	h, opt, _ := newTestHandler()
	body := `{"query":"what did I say about rust","candidates":[{"memory_id":"m1","content":"likes rust","score":0.8}],"context":{"version":1,"topics":["rust"]}}`

	w := httptest.NewRecorder()
	h.Optimize(w, newPairRequest(http.MethodPost, "/api/v1/users/u1/bots/b1/optimize", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res relevance.OptimizationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.OptimizedResults, 1)
	assert.Equal(t, "m1", res.OptimizedResults[0].MemoryID)
	assert.Equal(t, "what did I say about rust", opt.lastQuery)
	require.NotNil(t, opt.lastContext)
	assert.Equal(t, []string{"rust"}, opt.lastContext.Topics)
}

func TestOptimizerHandler_Optimize_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "empty body", body: "", wantCode: response.ErrCodeBadRequest},
		{name: "malformed json", body: `{"candidates":`, wantCode: response.ErrCodeBadRequest},
		{name: "wrong type", body: `{"candidates":"m1"}`, wantCode: response.ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler()
			w := httptest.NewRecorder()
			h.Optimize(w, newPairRequest(http.MethodPost, "/optimize", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error.Code)
		})
	}
}

func TestOptimizerHandler_MissingPathParams(t *testing.T) {
	h, _, _ := newTestHandler()
	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/effectiveness", nil), "userID", "u1")

	w := httptest.NewRecorder()
	h.Effectiveness(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimizerHandler_Quality(t *testing.T) {
	h, _, _ := newTestHandler()
	body := `{"candidates":[{"memory_id":"m1","content":"a","score":0.4}],"memories":[{"memory_id":"m2","content":"b","memory_type":"fact"}]}`

	w := httptest.NewRecorder()
	h.Quality(w, newPairRequest(http.MethodPost, "/quality", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp qualityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Candidates, 1)
	assert.InDelta(t, 0.8, resp.Candidates[0].Score, 1e-9)
	require.Len(t, resp.Scores, 1)
	assert.Equal(t, "m2", resp.Scores[0].MemoryID)
	assert.True(t, resp.Scores[0].Degraded)
}

func TestOptimizerHandler_Quality_Empty(t *testing.T) {
	h, _, _ := newTestHandler()

	w := httptest.NewRecorder()
	h.Quality(w, newPairRequest(http.MethodPost, "/quality", `{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.ErrCodeValidationFailed, decodeError(t, w).Error.Code)
}

func TestOptimizerHandler_Effectiveness(t *testing.T) {
	h, _, an := newTestHandler()

	w := httptest.NewRecorder()
	h.Effectiveness(w, newPairRequest(http.MethodGet, "/effectiveness?days=30", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, an.lastDays)
	var resp effectivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, 12, resp.Patterns[memory.PatternFactualRecall].UsageCount)
}

func TestOptimizerHandler_Effectiveness_DefaultWindow(t *testing.T) {
	h, _, an := newTestHandler()

	w := httptest.NewRecorder()
	h.Effectiveness(w, newPairRequest(http.MethodGet, "/effectiveness", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, effectiveness.DefaultConfig().AnalysisWindowDays, an.lastDays)
}

func TestOptimizerHandler_Effectiveness_InvalidDays(t *testing.T) {
	for _, q := range []string{"days=abc", "days=-1", "days=366"} {
		t.Run(q, func(t *testing.T) {
			h, _, _ := newTestHandler()
			w := httptest.NewRecorder()
			h.Effectiveness(w, newPairRequest(http.MethodGet, "/effectiveness?"+q, ""))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestOptimizerHandler_Recommendations(t *testing.T) {
	h, _, an := newTestHandler()

	w := httptest.NewRecorder()
	h.Recommendations(w, newPairRequest(http.MethodGet, "/recommendations?context=feeling+sad&topics=work,+family,&emotional_state=sad", ""))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, an.lastContext)
	assert.Equal(t, memory.CurrentContextVersion, an.lastContext.Version)
	assert.Equal(t, "feeling sad", an.lastContext.ConversationText)
	assert.Equal(t, []string{"work", "family"}, an.lastContext.Topics)
	assert.Equal(t, "sad", an.lastContext.EmotionalState)

	var rec effectiveness.Recommendations
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Fallback)
}

func TestOptimizerHandler_Recommendations_NoContext(t *testing.T) {
	h, _, an := newTestHandler()

	w := httptest.NewRecorder()
	h.Recommendations(w, newPairRequest(http.MethodGet, "/recommendations", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, an.lastContext)
}

func TestOptimizerHandler_VectorRecommendations(t *testing.T) {
	h, opt, _ := newTestHandler()

	w := httptest.NewRecorder()
	h.VectorRecommendations(w, newPairRequest(http.MethodGet, "/vector-recommendations?window_days=14", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 14, opt.lastWindow)
}

func TestOptimizerHandler_CreateBoost(t *testing.T) {
	h, opt, _ := newTestHandler()
	expires := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	opt.boosts = []relevance.VectorOptimization{{
		ID: "op-1", MemoryID: "m1", BoostType: relevance.BoostRanking,
		BoostFactor: 1.8, Pattern: memory.PatternFactualRecall, ExpiresAt: &expires,
	}}

	w := httptest.NewRecorder()
	h.CreateBoost(w, newPairRequest(http.MethodPost, "/boosts", `{"pattern":"Factual_Recall","boost_factor":1.8,"reason":"operator"}`))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, memory.PatternFactualRecall, opt.lastPattern)
	assert.Equal(t, 1.8, opt.lastFactor)
	var resp boostsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Boosts, 1)
	assert.Equal(t, "m1", resp.Boosts[0].MemoryID)
}

func TestOptimizerHandler_CreateBoost_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "unknown pattern", body: `{"pattern":"gossip","boost_factor":2}`, wantCode: response.ErrCodeBadRequest},
		{name: "missing pattern", body: `{"boost_factor":2}`, wantCode: response.ErrCodeValidationFailed},
		{name: "non-positive factor", body: `{"pattern":"factual_recall","boost_factor":0}`, wantCode: response.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler()
			w := httptest.NewRecorder()
			h.CreateBoost(w, newPairRequest(http.MethodPost, "/boosts", tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error.Code)
		})
	}
}

func TestOptimizerHandler_CreateBoost_ValidationDetails(t *testing.T) {
	h, _, _ := newTestHandler()

	w := httptest.NewRecorder()
	h.CreateBoost(w, newPairRequest(http.MethodPost, "/boosts", `{"pattern":"factual_recall","boost_factor":-1}`))

	resp := decodeError(t, w)
	assert.Equal(t, "gt", resp.Error.Details["boost_factor"])
}

func TestOptimizerHandler_ListBoosts(t *testing.T) {
	h, opt, _ := newTestHandler()

	w := httptest.NewRecorder()
	h.ListBoosts(w, newPairRequest(http.MethodGet, "/boosts?pattern=emotional_context", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, memory.PatternEmotionalContext, opt.lastPattern)
	assert.JSONEq(t, `{"boosts":[]}`, w.Body.String())
}

// The handler serves the real engine end to end over an in-memory history.
func TestOptimizerHandler_RealEngine(t *testing.T) {
	store := outcome.NewMemoryStore()
	analyzer := effectiveness.NewAnalyzer(store, effectiveness.DefaultConfig())
	optimizer := relevance.NewOptimizer(analyzer, relevance.DefaultConfig())
	h := NewOptimizerHandler(optimizer, analyzer, nil)

	body := `{"query":"rust","candidates":[{"memory_id":"m1","content":"likes rust","memory_type":"fact","score":0.9},{"memory_id":"m2","content":"owns a cat","memory_type":"fact","score":0.5}]}`
	w := httptest.NewRecorder()
	h.Optimize(w, newPairRequest(http.MethodPost, "/optimize", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res relevance.OptimizationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Len(t, res.OriginalResults, 2)
	assert.LessOrEqual(t, len(res.OptimizedResults), 2)

	w = httptest.NewRecorder()
	h.VectorRecommendations(w, newPairRequest(http.MethodGet, "/vector-recommendations", ""))
	require.Equal(t, http.StatusOK, w.Code)
	var rec relevance.VectorRecommendations
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Fallback)
}
