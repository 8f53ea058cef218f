package relevance

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimize_EmptyCandidates(t *testing.T) {
	a := &fakeAnalyzer{rec: defaultRec()}
	o, _ := newTestOptimizer(t, a)

	for _, in := range [][]memory.Candidate{nil, {}} {
		res := o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "anything", in, nil)
		assert.NotNil(t, res.OptimizedResults)
		assert.Empty(t, res.OptimizedResults)
		assert.Equal(t, 0, res.OptimizationCount)
		assert.Equal(t, 0.0, res.PerformanceImprovement)
	}
	assert.Equal(t, int32(0), a.recommendCalls.Load())
}

func TestOptimize_Pipeline(t *testing.T) {
	a := &fakeAnalyzer{rec: defaultRec()}
	o, _ := newTestOptimizer(t, a)

	candidates := []memory.Candidate{
		cand("m1", "preference", 0.8, 12*time.Hour, "User loves hiking in the mountains"),
		cand("m2", "technical", 0.9, 12*time.Hour, "User's laptop runs Arch Linux"),
		cand("m3", "fact", 0.6, 10*24*time.Hour, "User was born in Lisbon"),
	}
	res := o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "which hiking trails would I like?", candidates, nil)

	require.Equal(t, []string{"m1", "m2"}, ids(res.OptimizedResults))
	halfDay := math.Pow(0.95, 0.5)
	assert.InDelta(t, 0.8*1.3*1.2*halfDay*1.2, res.OptimizedResults[0].Score, 1e-9)
	assert.InDelta(t, 0.9*0.7*halfDay, res.OptimizedResults[1].Score, 1e-9)
	assert.Equal(t, 5, res.OptimizationCount)
	assert.Len(t, res.OptimizationsApplied, 5)
	assert.Empty(t, res.SkippedStages)
	assert.Greater(t, res.PerformanceImprovement, 0.0)

	// The caller's candidates are untouched.
	assert.Equal(t, 0.8, candidates[0].Score)
	assert.Equal(t, ids(candidates), ids(res.OriginalResults))

	for _, op := range res.OptimizationsApplied {
		assert.GreaterOrEqual(t, op.BoostFactor, memory.MinBoostFactor)
		assert.LessOrEqual(t, op.BoostFactor, memory.MaxBoostFactor)
		assert.InDelta(t, 0.8, op.Confidence, 1e-9)
	}
}

func TestOptimize_PerformanceImprovementFormula(t *testing.T) {
	before := []memory.Candidate{{Score: 0.5}, {Score: 0.7}}
	after := []memory.Candidate{{Score: 0.9}}

	assert.InDelta(t, (0.9-0.6)/0.6*0.5, performanceImprovement(before, after, 0.5), 1e-9)
	assert.Equal(t, 0.0, performanceImprovement(before, nil, 0.5))
	assert.Equal(t, 0.0, performanceImprovement(nil, after, 0.5))
}

func TestOptimize_ParametersCached(t *testing.T) {
	a := &fakeAnalyzer{rec: defaultRec()}
	o, clk := newTestOptimizer(t, a)
	in := []memory.Candidate{cand("m1", "fact", 0.9, time.Hour, "x")}

	o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "", in, nil)
	clk.Advance(29 * time.Minute)
	o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "", in, nil)
	assert.Equal(t, int32(1), a.recommendCalls.Load())

	clk.Advance(2 * time.Minute)
	o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "", in, nil)
	assert.Equal(t, int32(2), a.recommendCalls.Load())

	o.OptimizeMemoryRetrieval(context.Background(), "u2", "b1", "", in, nil)
	assert.Equal(t, int32(3), a.recommendCalls.Load())
}

func TestParameters_TimeoutNotCachedAndStaleFallback(t *testing.T) {
	a := &fakeAnalyzer{}
	o, clk := newTestOptimizer(t, a)
	timeout := memory.NewError(memory.KindUpstreamTimeout, "outcome.fetch", context.DeadlineExceeded)

	// Timeout with nothing cached: defaults, and nothing stored.
	a.setRecommendation(effectiveness.DefaultRecommendations(0.7), timeout)
	params, err := o.parameters(context.Background(), "u1", "b1", nil)
	assert.True(t, memory.IsKind(err, memory.KindUpstreamTimeout))
	assert.True(t, params.Fallback)
	_, err = o.parameters(context.Background(), "u1", "b1", nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), a.recommendCalls.Load())

	// A good answer is cached.
	a.setRecommendation(defaultRec(), nil)
	params, err = o.parameters(context.Background(), "u1", "b1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, params.QualityThreshold)

	// Once stale, a timeout falls back to the stale entry.
	clk.Advance(45 * time.Minute)
	a.setRecommendation(effectiveness.DefaultRecommendations(0.7), timeout)
	params, err = o.parameters(context.Background(), "u1", "b1", nil)
	assert.True(t, memory.IsKind(err, memory.KindUpstreamTimeout))
	assert.Equal(t, 0.5, params.QualityThreshold)
	assert.False(t, params.Fallback)
}

func TestParameters_DataUnavailableIsCached(t *testing.T) {
	a := &fakeAnalyzer{}
	a.setRecommendation(effectiveness.DefaultRecommendations(0.7),
		memory.NewError(memory.KindDataUnavailable, "effectiveness.recommend", memory.ErrNoHistory))
	o, _ := newTestOptimizer(t, a)

	params, err := o.parameters(context.Background(), "u1", "b1", nil)
	require.Error(t, err)
	assert.Equal(t, []memory.Pattern{memory.PatternConversationHistory, memory.PatternEmotionalContext}, params.BoostedPatterns)
	assert.Equal(t, boostedPatternMultiplier, params.RelevanceMultipliers[memory.PatternEmotionalContext])

	_, err = o.parameters(context.Background(), "u1", "b1", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.recommendCalls.Load())
}

func TestOptimize_PanicPassesThrough(t *testing.T) {
	a := &fakeAnalyzer{rec: defaultRec()}
	o, _ := newTestOptimizer(t, a, WithClassifier(memory.ClassifierFunc(func(string) []memory.Pattern {
		panic("classifier exploded")
	})))

	in := []memory.Candidate{
		cand("m1", "fact", 0.3, time.Hour, "a"),
		cand("m2", "fact", 0.9, time.Hour, "b"),
	}
	res := o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "q", in, nil)
	assert.Equal(t, in, res.OptimizedResults)
	assert.Equal(t, 0, res.OptimizationCount)
}

func TestOptimize_NonFiniteScoreSkipsStages(t *testing.T) {
	a := &fakeAnalyzer{rec: defaultRec()}
	o, _ := newTestOptimizer(t, a)

	bad := cand("m1", "preference", math.NaN(), time.Hour, "x")
	res := o.OptimizeMemoryRetrieval(context.Background(), "u1", "b1", "", []memory.Candidate{bad}, nil)
	assert.Equal(t, []string{StageQuality, StagePattern, StageTemporal, StageContext}, res.SkippedStages)
	assert.Empty(t, res.OptimizedResults)
}

type stageRecorder struct {
	nopMetrics
	stages map[string]string
}

func (r *stageRecorder) RecordStage(stage, status string, _ int, _ time.Duration) {
	r.stages[stage] = status
}

func TestRunStage_RecoversPanic(t *testing.T) {
	rec := &stageRecorder{stages: map[string]string{}}
	o, _ := newTestOptimizer(t, &fakeAnalyzer{}, WithMetrics(rec))
	in := []memory.Candidate{cand("m1", "fact", 0.5, time.Hour, "x")}

	boom := stage{name: "boom", run: func(_ *pipelineState, c []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
		c[0].Score = 99
		panic("boom")
	}}
	out, ops, err := o.runStage(context.Background(), boom, &pipelineState{logger: memory.NopLogger{}}, in)
	require.Error(t, err)
	assert.True(t, memory.IsKind(err, memory.KindInternal))
	assert.Nil(t, out)
	assert.Nil(t, ops)
	assert.Equal(t, 0.5, in[0].Score)
	assert.Equal(t, "skipped", rec.stages["boom"])

	failing := stage{name: "fails", run: func(*pipelineState, []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
		return nil, nil, errors.New("bad math")
	}}
	_, _, err = o.runStage(context.Background(), failing, &pipelineState{logger: memory.NopLogger{}}, in)
	assert.True(t, memory.IsKind(err, memory.KindInternal))
}

func TestSetConfig(t *testing.T) {
	o, _ := newTestOptimizer(t, &fakeAnalyzer{})
	o.SetConfig(Config{CacheTTL: time.Minute, MaxBoostFactor: 0.5})

	cfg := o.Config()
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 2.5, cfg.MaxBoostFactor)
	assert.Equal(t, 24*time.Hour, cfg.ManualBoostTTL)
	assert.Equal(t, 2*time.Minute, ParamsCacheTTL(cfg))
}
