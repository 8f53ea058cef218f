package effectiveness

import (
	"context"
	"math"
	"sort"

	"github.com/goclaw/memopt/pkg/memory"
)

// maxRetrieveMoreBoosts is how many of the best boost patterns are added to
// the retrieve-more hints.
const maxRetrieveMoreBoosts = 3

// Recommend derives retrieval recommendations from the recommendation window.
// When no pattern metrics are available it returns DefaultRecommendations
// together with the reason.
func (a *Analyzer) Recommend(ctx context.Context, userID, botID string, oc *memory.OptimizationContext) (rec Recommendations, err error) {
	const op = "effectiveness.recommend"
	start := a.now()
	ctx, span := startSpan(ctx, op, userID, botID)
	defer func() {
		endSpan(span, err)
		a.observe("recommend", start, err)
	}()

	cfg := a.Config()
	metrics, err := a.Performance(ctx, userID, botID, cfg.RecommendationWindowDays)
	if err != nil {
		return DefaultRecommendations(cfg.QualityThreshold), err
	}
	if len(metrics) == 0 {
		return DefaultRecommendations(cfg.QualityThreshold), memory.NewError(memory.KindDataUnavailable, op, memory.ErrNoHistory)
	}

	rec = buildRecommendations(metrics, a.classifier.Classify(oc.Text()), cfg)
	rec.GeneratedAt = a.now()
	return rec, nil
}

// GetMemoryOptimizationRecommendations is the fail-open form of Recommend.
func (a *Analyzer) GetMemoryOptimizationRecommendations(ctx context.Context, userID, botID string, oc *memory.OptimizationContext) Recommendations {
	rec, err := a.Recommend(ctx, userID, botID, oc)
	if err != nil {
		memory.LogError(a.logger, "memory recommendations fell back to defaults", err,
			"user_id", userID, "bot_id", botID)
	}
	return rec
}

// orderedMetrics returns metrics in AllPatterns order.
func orderedMetrics(metrics map[memory.Pattern]Metrics) []Metrics {
	out := make([]Metrics, 0, len(metrics))
	for _, p := range memory.AllPatterns() {
		if m, ok := metrics[p]; ok {
			out = append(out, m)
		}
	}
	return out
}

func buildRecommendations(metrics map[memory.Pattern]Metrics, detected []memory.Pattern, cfg Config) Recommendations {
	ordered := orderedMetrics(metrics)

	var boosts, penalties []Metrics
	var totalUsage int
	rates := make([]float64, 0, len(ordered))
	for _, m := range ordered {
		switch {
		case m.SuccessRate > cfg.BoostThreshold:
			boosts = append(boosts, m)
		case m.SuccessRate < cfg.PenaltyThreshold:
			penalties = append(penalties, m)
		}
		totalUsage += m.UsageCount
		rates = append(rates, m.SuccessRate)
	}
	sort.SliceStable(boosts, func(i, j int) bool {
		return boosts[i].SuccessRate > boosts[j].SuccessRate
	})

	rec := Recommendations{
		BoostPatterns:   patternsOf(boosts),
		PenaltyPatterns: patternsOf(penalties),
	}

	seen := make(map[memory.Pattern]struct{})
	rec.RetrieveMore = make([]memory.Pattern, 0, len(detected)+maxRetrieveMoreBoosts)
	for _, p := range detected {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			rec.RetrieveMore = append(rec.RetrieveMore, p)
		}
	}
	for i, p := range rec.BoostPatterns {
		if i == maxRetrieveMoreBoosts {
			break
		}
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			rec.RetrieveMore = append(rec.RetrieveMore, p)
		}
	}

	meanRate, stdev := meanStdev(rates)
	threshold := cfg.QualityThreshold
	switch {
	case meanRate > 0.8:
		threshold += 0.1
	case meanRate < 0.6:
		threshold -= 0.1
	}
	rec.QualityThreshold = memory.Clamp01(threshold)

	adj := len(boosts) - len(penalties)
	if adj < MinLimitAdjustment {
		adj = MinLimitAdjustment
	}
	if adj > MaxLimitAdjustment {
		adj = MaxLimitAdjustment
	}
	rec.MemoryLimitAdjustment = adj

	rec.Confidence = recommendationConfidence(totalUsage, len(rates), stdev)
	return rec
}

// recommendationConfidence averages a data-volume term and a consistency
// term. Consistency is zero with one pattern or fewer.
func recommendationConfidence(totalUsage, patterns int, stdev float64) float64 {
	volume := math.Min(1, float64(totalUsage)/100)
	consistency := 0.0
	if patterns > 1 {
		consistency = memory.Clamp01(1 - stdev)
	}
	return memory.Clamp01((volume + consistency) / 2)
}

func patternsOf(metrics []Metrics) []memory.Pattern {
	out := make([]memory.Pattern, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, m.Pattern)
	}
	return out
}

// meanStdev returns the mean and population standard deviation of values.
func meanStdev(values []float64) (mean, stdev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
