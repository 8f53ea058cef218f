package relevance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/goclaw/memopt/pkg/cache"
	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
)

// Strategy factor slopes.
const (
	boostStrategyGain   = 5.0
	penaltyStrategyGain = 2.0
	strategyFullUsage   = 50.0
)

// GetOptimizationRecommendations derives vector-store tuning for a user/bot
// pair over windowDays (RecommendationWindowDays when not positive). Results
// are cached per window for CacheTTL. It never fails: without history the
// fallback recommendations are returned.
func (o *Optimizer) GetOptimizationRecommendations(ctx context.Context, userID, botID string, windowDays int) VectorRecommendations {
	rec, err := o.vectorRecommendations(ctx, userID, botID, windowDays)
	if err != nil {
		memory.LogError(o.logger, "vector recommendations fell back to defaults", err,
			"user_id", userID, "bot_id", botID, "window_days", windowDays)
	}
	return rec
}

func (o *Optimizer) vectorRecommendations(ctx context.Context, userID, botID string, windowDays int) (VectorRecommendations, error) {
	cfg := o.Config()
	if windowDays <= 0 {
		windowDays = cfg.RecommendationWindowDays
	}
	key := cache.Key(userID, botID, "window", strconv.Itoa(windowDays))

	if cached, age, ok := o.vectorRecs.Get(ctx, key); ok && age <= cfg.CacheTTL {
		o.metrics.RecordCacheLookup(cacheRecommendations, "hit")
		return cached, nil
	}
	o.metrics.RecordCacheLookup(cacheRecommendations, "miss")

	ctx, span := startSpan(ctx, spanRecommendations, userID, botID)
	defer span.End()

	metrics, err := o.analyzer.Performance(ctx, userID, botID, windowDays)
	rec := buildVectorRecommendations(metrics, cfg)
	rec.WindowDays = windowDays
	rec.GeneratedAt = o.now()
	if err == nil && len(metrics) == 0 {
		err = memory.NewError(memory.KindDataUnavailable, "relevance.vector_recommendations", memory.ErrNoHistory)
	}

	if !memory.IsKind(err, memory.KindUpstreamTimeout) {
		if serr := o.vectorRecs.Set(ctx, key, rec); serr != nil {
			o.logger.Warn("failed to cache vector recommendations", "user_id", userID, "bot_id", botID, "error", serr)
		}
	}
	return rec, err
}

func buildVectorRecommendations(metrics map[memory.Pattern]effectiveness.Metrics, cfg Config) VectorRecommendations {
	rec := VectorRecommendations{
		BoostStrategies:   []Strategy{},
		PenaltyStrategies: []Strategy{},
		Priority:          []memory.Pattern{},
		QualityThresholds: scaledThresholds(0.5),
		TemporalSettings:  DefaultTemporalSettings(),
	}
	if len(metrics) == 0 {
		rec.Fallback = true
		return rec
	}

	ordered := make([]effectiveness.Metrics, 0, len(metrics))
	for _, p := range memory.AllPatterns() {
		if m, ok := metrics[p]; ok {
			ordered = append(ordered, m)
		}
	}

	var sumRate float64
	for _, m := range ordered {
		sumRate += m.SuccessRate
		confidence := math.Min(1, float64(m.UsageCount)/strategyFullUsage)
		switch {
		case m.SuccessRate > cfg.BoostThreshold:
			factor := math.Min(cfg.MaxBoostFactor, 1+(m.SuccessRate-cfg.BoostThreshold)*boostStrategyGain)
			rec.BoostStrategies = append(rec.BoostStrategies, Strategy{
				Pattern:           m.Pattern,
				BoostFactor:       memory.ClampBoost(factor),
				Confidence:        confidence,
				Reason:            fmt.Sprintf("%.0f%% success over %d conversations", m.SuccessRate*100, m.UsageCount),
				SuccessRate:       m.SuccessRate,
				ImprovementFactor: m.ImprovementFactor,
				UsageCount:        m.UsageCount,
			})
		case m.SuccessRate < cfg.PenaltyThreshold:
			factor := math.Max(cfg.MaxPenaltyFactor, 1-(cfg.PenaltyThreshold-m.SuccessRate)*penaltyStrategyGain)
			rec.PenaltyStrategies = append(rec.PenaltyStrategies, Strategy{
				Pattern:           m.Pattern,
				BoostFactor:       memory.ClampBoost(factor),
				Confidence:        confidence,
				Reason:            fmt.Sprintf("only %.0f%% success over %d conversations", m.SuccessRate*100, m.UsageCount),
				SuccessRate:       m.SuccessRate,
				ImprovementFactor: m.ImprovementFactor,
				UsageCount:        m.UsageCount,
			})
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ImprovementFactor*ordered[i].SuccessRate > ordered[j].ImprovementFactor*ordered[j].SuccessRate
	})
	for _, m := range ordered {
		rec.Priority = append(rec.Priority, m.Pattern)
	}

	rec.QualityThresholds = scaledThresholds(sumRate / float64(len(ordered)))
	return rec
}

// scaledThresholds scales the base cut-offs by the mean success rate: a mean
// of 0.5 keeps them unchanged, better histories raise them.
func scaledThresholds(meanSuccess float64) QualityThresholds {
	scale := 0.8 + 0.4*memory.Clamp01(meanSuccess)
	return QualityThresholds{
		Minimum:  memory.Clamp(0.5*scale, 0.3, 0.9),
		Standard: memory.Clamp(0.7*scale, 0.3, 0.9),
		High:     memory.Clamp(0.85*scale, 0.3, 0.9),
	}
}
