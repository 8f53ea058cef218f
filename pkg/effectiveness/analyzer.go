// Package effectiveness learns which memory patterns improve conversation
// outcomes. It turns a window of conversation analyses into per-pattern
// metrics, per-memory quality scores and retrieval recommendations.
//
// Methods returning an error are the inspectable core. The Analyze*, Score*
// and Get* methods are the fail-open edge: they log the failure and return
// the documented default instead.
package effectiveness

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/outcome"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "memopt.effectiveness"

const measurementEffectiveness = "memory_effectiveness"

// MetricsRecorder defines metrics hooks for analyzer operations.
type MetricsRecorder interface {
	RecordAnalysis(operation string, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordAnalysis(string, string, time.Duration) {}

// Analyzer is the effectiveness analyzer. It is safe for concurrent use.
type Analyzer struct {
	source     outcome.Source
	cfg        atomic.Pointer[Config]
	classifier memory.Classifier
	sink       memory.MetricsSink
	logger     memory.Logger
	metrics    MetricsRecorder
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClassifier sets the context classifier used for retrieve-more hints.
func WithClassifier(c memory.Classifier) Option {
	return func(a *Analyzer) {
		if c != nil {
			a.classifier = c
		}
	}
}

// WithMetricsSink sets the time-series sink for effectiveness points.
func WithMetricsSink(sink memory.MetricsSink) Option {
	return func(a *Analyzer) {
		a.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(l memory.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(a *Analyzer) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an analyzer reading history from source.
func NewAnalyzer(source outcome.Source, cfg Config, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:     source,
		classifier: memory.NewKeywordClassifier(nil),
		logger:     memory.NopLogger{},
		metrics:    nopMetrics{},
		now:        time.Now,
	}
	a.SetConfig(cfg)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the active configuration.
func (a *Analyzer) Config() Config {
	return *a.cfg.Load()
}

// SetConfig replaces the configuration. In-flight calls keep the old one.
func (a *Analyzer) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	a.cfg.Store(&cfg)
}

func validateIDs(op, userID, botID string) error {
	if strings.TrimSpace(userID) == "" {
		return memory.NewError(memory.KindDataUnavailable, op, memory.ErrInvalidUserID)
	}
	if strings.TrimSpace(botID) == "" {
		return memory.NewError(memory.KindDataUnavailable, op, memory.ErrInvalidBotID)
	}
	return nil
}

// fetch loads the window from the source and normalizes its errors.
func (a *Analyzer) fetch(ctx context.Context, op, userID, botID string, daysBack int) ([]memory.ConversationAnalysis, error) {
	if err := validateIDs(op, userID, botID); err != nil {
		return nil, err
	}
	if daysBack <= 0 {
		return nil, memory.NewError(memory.KindDataUnavailable, op, memory.ErrInvalidWindow)
	}
	if a.source == nil {
		return nil, memory.NewError(memory.KindDataUnavailable, op, memory.ErrNoHistory)
	}
	analyses, err := a.source.GetConversationAnalyses(ctx, userID, botID, daysBack)
	if err != nil {
		var merr *memory.Error
		if errors.As(err, &merr) {
			return nil, err
		}
		return nil, memory.NewError(memory.KindDataUnavailable, op, err)
	}
	return analyses, nil
}

func (a *Analyzer) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = memory.KindOf(err).String()
	}
	a.metrics.RecordAnalysis(op, status, a.now().Sub(start))
}

func startSpan(ctx context.Context, name, userID, botID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("memopt.user_id", userID),
		attribute.String("memopt.bot_id", botID),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, memory.KindOf(err).String())
	}
	span.End()
}

// Performance computes per-pattern metrics over the trailing daysBack days.
// With fewer than MinSampleSize conversations it returns an empty map and a
// KindDataUnavailable error.
func (a *Analyzer) Performance(ctx context.Context, userID, botID string, daysBack int) (result map[memory.Pattern]Metrics, err error) {
	const op = "effectiveness.performance"
	start := a.now()
	ctx, span := startSpan(ctx, op, userID, botID)
	defer func() {
		endSpan(span, err)
		a.observe("performance", start, err)
	}()

	cfg := a.Config()
	analyses, err := a.fetch(ctx, op, userID, botID, daysBack)
	if err != nil {
		return map[memory.Pattern]Metrics{}, err
	}
	span.SetAttributes(attribute.Int("memopt.conversations", len(analyses)))
	if len(analyses) < cfg.MinSampleSize {
		return map[memory.Pattern]Metrics{}, memory.NewError(memory.KindDataUnavailable, op, memory.ErrNoHistory)
	}

	result = computeMetrics(analyses, cfg.MinSampleSize, a.now())
	a.emitMetrics(userID, botID, result)
	return result, nil
}

// AnalyzeMemoryPerformance is the fail-open form of Performance. It always
// returns a non-nil map; "no data" is an empty map.
func (a *Analyzer) AnalyzeMemoryPerformance(ctx context.Context, userID, botID string, daysBack int) map[memory.Pattern]Metrics {
	result, err := a.Performance(ctx, userID, botID, daysBack)
	if err != nil {
		memory.LogError(a.logger, "memory performance analysis degraded", err,
			"user_id", userID, "bot_id", botID, "days_back", daysBack)
		return map[memory.Pattern]Metrics{}
	}
	return result
}

// computeMetrics builds per-pattern metrics. Patterns used in fewer than
// minSample conversations are left out.
func computeMetrics(analyses []memory.ConversationAnalysis, minSample int, now time.Time) map[memory.Pattern]Metrics {
	result := make(map[memory.Pattern]Metrics)
	if len(analyses) == 0 {
		return result
	}

	var totalConfidence float64
	for i := range analyses {
		totalConfidence += analyses[i].ConfidenceScore
	}
	overallConfidence := totalConfidence / float64(len(analyses))

	for _, pattern := range memory.AllPatterns() {
		var (
			used, unused            int
			successes               int
			scoreWith, scoreWithout float64
			confidenceWith          float64
		)
		for i := range analyses {
			a := &analyses[i]
			if a.UsesPattern(pattern) {
				used++
				scoreWith += a.Outcome.Score()
				confidenceWith += a.ConfidenceScore
				if a.Outcome.Successful() {
					successes++
				}
			} else {
				unused++
				scoreWithout += a.Outcome.Score()
			}
		}
		if used == 0 || used < minSample {
			continue
		}

		successRate := memory.Clamp01(float64(successes) / float64(used))
		avgWith := memory.Clamp01(scoreWith / float64(used))
		improvement := 1.0
		if unused > 0 {
			if avgWithout := scoreWithout / float64(unused); avgWithout > 0 {
				improvement = avgWith / avgWithout
			}
		}

		result[pattern] = Metrics{
			Pattern:             pattern,
			UsageCount:          used,
			SuccessRate:         successRate,
			AverageOutcomeScore: avgWith,
			ImprovementFactor:   improvement,
			ConfidenceBoost:     memory.Clamp(confidenceWith/float64(used)-overallConfidence, -1, 1),
			UserSatisfaction:    successRate,
			ResponseRelevance:   avgWith,
			LastUpdated:         now,
		}
	}
	return result
}

func (a *Analyzer) emitMetrics(userID, botID string, metrics map[memory.Pattern]Metrics) {
	if a.sink == nil {
		return
	}
	cfg := a.Config()
	for pattern, m := range metrics {
		memory.EmitAsync(a.sink, cfg.SinkTimeout, measurementEffectiveness,
			map[string]string{
				"user_id": userID,
				"bot_id":  botID,
				"pattern": string(pattern),
			},
			map[string]any{
				"usage_count":           m.UsageCount,
				"success_rate":          m.SuccessRate,
				"average_outcome_score": m.AverageOutcomeScore,
				"improvement_factor":    m.ImprovementFactor,
				"confidence_boost":      m.ConfidenceBoost,
			},
			func(err error) {
				memory.LogError(a.logger, "effectiveness sink write failed", err, "pattern", pattern)
			})
	}
}

// EffectiveMemories returns ids of memories used in successful conversations
// that involved pattern, most frequently used first.
func (a *Analyzer) EffectiveMemories(ctx context.Context, userID, botID string, pattern memory.Pattern) (ids []string, err error) {
	const op = "effectiveness.effective_memories"
	start := a.now()
	defer func() { a.observe("effective_memories", start, err) }()

	if _, perr := memory.ParsePattern(string(pattern)); perr != nil {
		return nil, memory.NewError(memory.KindDataUnavailable, op, perr)
	}
	analyses, err := a.fetch(ctx, op, userID, botID, a.Config().AnalysisWindowDays)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for i := range analyses {
		an := &analyses[i]
		if !an.Outcome.Successful() || !an.UsesPattern(pattern) {
			continue
		}
		for _, id := range an.MemoryIDs {
			if id == "" {
				continue
			}
			if _, seen := counts[id]; !seen {
				ids = append(ids, id)
			}
			counts[id]++
		}
	}
	if len(ids) == 0 {
		return nil, memory.NewError(memory.KindDataUnavailable, op, memory.ErrNoHistory)
	}
	sortByCount(ids, counts)
	return ids, nil
}

func sortByCount(ids []string, counts map[string]int) {
	sort.SliceStable(ids, func(i, j int) bool {
		return counts[ids[i]] > counts[ids[j]]
	})
}
