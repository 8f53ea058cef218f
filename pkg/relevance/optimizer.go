// Package relevance re-ranks retrieved memory candidates. A five-stage
// pipeline (quality, pattern, temporal, context, final ranking) adjusts
// candidate scores using parameters learned by the effectiveness analyzer
// and records every adjustment it makes.
//
// The pipeline is fail-open: a failing stage is skipped and, on total
// failure, candidates pass through unmodified.
package relevance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goclaw/memopt/pkg/cache"
	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
	"go.opentelemetry.io/otel/attribute"
)

const measurementOptimization = "retrieval_optimization"

// Analyzer is the part of the effectiveness analyzer the optimizer uses.
type Analyzer interface {
	Performance(ctx context.Context, userID, botID string, daysBack int) (map[memory.Pattern]effectiveness.Metrics, error)
	Recommend(ctx context.Context, userID, botID string, oc *memory.OptimizationContext) (effectiveness.Recommendations, error)
	ScoreBatch(ctx context.Context, userID, botID string, reqs []effectiveness.QualityRequest) ([]effectiveness.QualityScore, error)
	EffectiveMemories(ctx context.Context, userID, botID string, pattern memory.Pattern) ([]string, error)
}

// MetricsRecorder defines metrics hooks for optimizer operations.
type MetricsRecorder interface {
	RecordOptimization(status string, candidates, optimized, adjustments int, duration time.Duration)
	RecordStage(stage, status string, adjustments int, duration time.Duration)
	RecordCacheLookup(cacheName, result string)
	RecordManualBoost(pattern string, memories int)
}

type nopMetrics struct{}

func (nopMetrics) RecordOptimization(string, int, int, int, time.Duration) {}
func (nopMetrics) RecordStage(string, string, int, time.Duration)          {}
func (nopMetrics) RecordCacheLookup(string, string)                        {}
func (nopMetrics) RecordManualBoost(string, int)                           {}

// Cache names reported to the metrics recorder.
const (
	cacheParams          = "params"
	cacheManualBoosts    = "manual_boosts"
	cacheRecommendations = "vector_recommendations"
)

// Optimizer is the relevance optimizer. It is safe for concurrent use.
type Optimizer struct {
	analyzer   Analyzer
	params     cache.Store[RetrievalOptimization]
	boosts     cache.Store[[]VectorOptimization]
	vectorRecs cache.Store[VectorRecommendations]
	classifier memory.Classifier
	cfg        atomic.Pointer[Config]
	sink       memory.MetricsSink
	logger     memory.Logger
	metrics    MetricsRecorder
	now        func() time.Time
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithParamsCache sets the store for resolved retrieval parameters.
func WithParamsCache(s cache.Store[RetrievalOptimization]) Option {
	return func(o *Optimizer) {
		if s != nil {
			o.params = s
		}
	}
}

// WithBoostCache sets the store for manual boosts.
func WithBoostCache(s cache.Store[[]VectorOptimization]) Option {
	return func(o *Optimizer) {
		if s != nil {
			o.boosts = s
		}
	}
}

// WithRecommendationCache sets the store for vector recommendations.
func WithRecommendationCache(s cache.Store[VectorRecommendations]) Option {
	return func(o *Optimizer) {
		if s != nil {
			o.vectorRecs = s
		}
	}
}

// WithClassifier sets the query classifier used by the pattern stage.
func WithClassifier(c memory.Classifier) Option {
	return func(o *Optimizer) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithMetricsSink sets the time-series sink.
func WithMetricsSink(sink memory.MetricsSink) Option {
	return func(o *Optimizer) {
		o.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(l memory.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Optimizer) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOptimizer creates an optimizer. Caches default to in-process stores.
func NewOptimizer(analyzer Analyzer, cfg Config, opts ...Option) *Optimizer {
	cfg = cfg.withDefaults()
	o := &Optimizer{
		analyzer:   analyzer,
		classifier: memory.NewKeywordClassifier(nil),
		logger:     memory.NopLogger{},
		metrics:    nopMetrics{},
		now:        time.Now,
	}
	o.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(o)
	}
	if o.params == nil {
		o.params = cache.NewMemory[RetrievalOptimization](ParamsCacheTTL(cfg), cache.WithClock(o.now))
	}
	if o.boosts == nil {
		o.boosts = cache.NewMemory[[]VectorOptimization](cfg.ManualBoostTTL, cache.WithClock(o.now))
	}
	if o.vectorRecs == nil {
		o.vectorRecs = cache.NewMemory[VectorRecommendations](cfg.CacheTTL, cache.WithClock(o.now))
	}
	return o
}

// Config returns the active configuration.
func (o *Optimizer) Config() Config {
	return *o.cfg.Load()
}

// SetConfig replaces the configuration. In-flight calls keep the old one.
func (o *Optimizer) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	o.cfg.Store(&cfg)
}

// OptimizeMemoryRetrieval re-ranks candidates for one query. It never fails:
// on total failure the candidates are returned unmodified.
func (o *Optimizer) OptimizeMemoryRetrieval(ctx context.Context, userID, botID, query string, candidates []memory.Candidate, oc *memory.OptimizationContext) (result OptimizationResult) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			err := memory.NewError(memory.KindInternal, "relevance.optimize", fmt.Errorf("panic: %v", r))
			memory.LogError(o.logger, "memory optimization failed, passing candidates through", err,
				"user_id", userID, "bot_id", botID)
			result = passthrough(candidates, o.now().Sub(start))
			o.metrics.RecordOptimization("failed", len(candidates), len(candidates), 0, result.ProcessingTime)
		}
	}()

	result, err := o.optimize(ctx, userID, botID, query, candidates, oc)
	if err != nil {
		memory.LogError(o.logger, "memory optimization degraded", err,
			"user_id", userID, "bot_id", botID, "skipped_stages", result.SkippedStages)
	}
	return result
}

func passthrough(candidates []memory.Candidate, elapsed time.Duration) OptimizationResult {
	original := memory.CloneCandidates(candidates)
	if original == nil {
		original = []memory.Candidate{}
	}
	return OptimizationResult{
		OriginalResults:      original,
		OptimizedResults:     memory.CloneCandidates(original),
		OptimizationsApplied: []VectorOptimization{},
		ProcessingTime:       elapsed,
	}
}

// optimize runs the pipeline. The returned result is always usable; the
// error joins everything that degraded it.
func (o *Optimizer) optimize(ctx context.Context, userID, botID, query string, candidates []memory.Candidate, oc *memory.OptimizationContext) (OptimizationResult, error) {
	start := o.now()
	ctx, span := startSpan(ctx, spanOptimize, userID, botID)
	defer span.End()
	span.SetAttributes(attribute.Int("memopt.candidates", len(candidates)))

	if len(candidates) == 0 {
		result := passthrough(nil, o.now().Sub(start))
		o.metrics.RecordOptimization("empty", 0, 0, 0, result.ProcessingTime)
		return result, nil
	}

	cfg := o.Config()
	var errs []error

	params, err := o.parameters(ctx, userID, botID, oc)
	if err != nil {
		errs = append(errs, err)
	}

	st := &pipelineState{
		userID:        userID,
		botID:         botID,
		context:       oc,
		params:        params,
		detected:      patternSet(o.classifier.Classify(query)),
		manual:        o.activeBoosts(ctx, userID, botID),
		originalCount: len(candidates),
		now:           o.now(),
		cfg:           cfg,
		logger:        o.logger,
	}

	working := memory.CloneCandidates(candidates)
	applied := []VectorOptimization{}
	var skipped []string
	for _, stage := range pipeline() {
		next, ops, serr := o.runStage(ctx, stage, st, working)
		if serr != nil {
			memory.LogError(o.logger, "optimization stage skipped", serr,
				"stage", stage.name, "user_id", userID, "bot_id", botID)
			skipped = append(skipped, stage.name)
			errs = append(errs, serr)
			continue
		}
		working = next
		applied = append(applied, ops...)
	}

	result := OptimizationResult{
		OriginalResults:        memory.CloneCandidates(candidates),
		OptimizedResults:       working,
		OptimizationsApplied:   applied,
		PerformanceImprovement: performanceImprovement(candidates, working, params.Confidence),
		OptimizationCount:      len(applied),
		ProcessingTime:         o.now().Sub(start),
		SkippedStages:          skipped,
	}
	if result.OptimizedResults == nil {
		result.OptimizedResults = []memory.Candidate{}
	}

	status := "ok"
	if len(skipped) > 0 {
		status = "degraded"
	}
	o.metrics.RecordOptimization(status, len(candidates), len(result.OptimizedResults), result.OptimizationCount, result.ProcessingTime)
	span.SetAttributes(
		attribute.Int("memopt.optimized", len(result.OptimizedResults)),
		attribute.Int("memopt.adjustments", result.OptimizationCount),
	)
	o.emit(userID, botID, result)

	return result, errors.Join(errs...)
}

// parameters resolves the retrieval parameters of a user/bot pair: a fresh
// cache entry, else a new recommendation from the analyzer. When the analyzer
// times out a stale entry is preferred over the defaults, and the timeout
// result is not cached.
func (o *Optimizer) parameters(ctx context.Context, userID, botID string, oc *memory.OptimizationContext) (RetrievalOptimization, error) {
	cfg := o.Config()
	key := cache.Key(userID, botID)

	cached, age, ok := o.params.Get(ctx, key)
	if ok && age <= cfg.CacheTTL {
		o.metrics.RecordCacheLookup(cacheParams, "hit")
		return cached, nil
	}
	if ok {
		o.metrics.RecordCacheLookup(cacheParams, "stale")
	} else {
		o.metrics.RecordCacheLookup(cacheParams, "miss")
	}

	rec, err := o.analyzer.Recommend(ctx, userID, botID, oc)
	if memory.IsKind(err, memory.KindUpstreamTimeout) {
		if ok {
			return cached, err
		}
		return fromRecommendations(rec, cfg, o.now()), err
	}

	params := fromRecommendations(rec, cfg, o.now())
	if serr := o.params.Set(ctx, key, params); serr != nil {
		o.logger.Warn("failed to cache retrieval parameters", "user_id", userID, "bot_id", botID, "error", serr)
	}
	return params, err
}

func fromRecommendations(rec effectiveness.Recommendations, cfg Config, now time.Time) RetrievalOptimization {
	multipliers := make(map[memory.Pattern]float64, len(rec.BoostPatterns)+len(rec.PenaltyPatterns))
	for _, p := range rec.BoostPatterns {
		multipliers[p] = boostedPatternMultiplier
	}
	for _, p := range rec.PenaltyPatterns {
		multipliers[p] = penalizedPatternMultiplier
	}

	adj := rec.MemoryLimitAdjustment
	if adj < effectiveness.MinLimitAdjustment {
		adj = effectiveness.MinLimitAdjustment
	}
	if adj > effectiveness.MaxLimitAdjustment {
		adj = effectiveness.MaxLimitAdjustment
	}

	return RetrievalOptimization{
		BoostedPatterns:      append([]memory.Pattern{}, rec.BoostPatterns...),
		PenalizedPatterns:    append([]memory.Pattern{}, rec.PenaltyPatterns...),
		RetrieveMore:         append([]memory.Pattern{}, rec.RetrieveMore...),
		QualityThreshold:     memory.Clamp01(rec.QualityThreshold),
		MaxResultsAdjustment: adj,
		RelevanceMultipliers: multipliers,
		TemporalDecayFactor:  cfg.TemporalDecayFactor,
		Timestamp:            now,
		Confidence:           memory.Clamp01(rec.Confidence),
		Fallback:             rec.Fallback,
	}
}

// performanceImprovement is the confidence-weighted relative change of the
// mean score of the top candidates.
func performanceImprovement(before, after []memory.Candidate, confidence float64) float64 {
	b := topMean(before, performanceTopN)
	a := topMean(after, performanceTopN)
	if len(before) == 0 || len(after) == 0 || b == 0 {
		return 0
	}
	return (a - b) / b * memory.Clamp01(confidence)
}

func topMean(candidates []memory.Candidate, n int) float64 {
	if len(candidates) == 0 {
		return 0
	}
	scores := make([]float64, len(candidates))
	for i := range candidates {
		scores[i] = candidates[i].Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > n {
		scores = scores[:n]
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func patternSet(patterns []memory.Pattern) map[memory.Pattern]struct{} {
	set := make(map[memory.Pattern]struct{}, len(patterns))
	for _, p := range patterns {
		set[p] = struct{}{}
	}
	return set
}

func (o *Optimizer) emit(userID, botID string, result OptimizationResult) {
	if o.sink == nil {
		return
	}
	memory.EmitAsync(o.sink, o.Config().SinkTimeout, measurementOptimization,
		map[string]string{"user_id": userID, "bot_id": botID},
		map[string]any{
			"original_count":          len(result.OriginalResults),
			"optimized_count":         len(result.OptimizedResults),
			"optimization_count":      result.OptimizationCount,
			"performance_improvement": result.PerformanceImprovement,
			"processing_ms":           float64(result.ProcessingTime.Microseconds()) / 1000,
			"skipped_stages":          strings.Join(result.SkippedStages, ","),
		},
		func(err error) {
			memory.LogError(o.logger, "optimization sink write failed", err)
		})
}
