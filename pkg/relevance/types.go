package relevance

import (
	"time"

	"github.com/goclaw/memopt/pkg/memory"
)

// BoostType names the kind of adjustment recorded in a VectorOptimization.
type BoostType string

const (
	BoostScoreMultiplier     BoostType = "score_multiplier"
	BoostRanking             BoostType = "ranking_boost"
	BoostThresholdAdjustment BoostType = "threshold_adjustment"
	BoostVectorEnhancement   BoostType = "vector_enhancement"
)

// Stage names.
const (
	StageQuality  = "quality"
	StagePattern  = "pattern"
	StageTemporal = "temporal"
	StageContext  = "context"
	StageFinal    = "final"
	StageManual   = "manual"
)

// VectorOptimization records one adjustment applied to one candidate.
type VectorOptimization struct {
	ID          string         `json:"id,omitempty"`
	MemoryID    string         `json:"memory_id"`
	BoostType   BoostType      `json:"boost_type"`
	BoostFactor float64        `json:"boost_factor"`
	Confidence  float64        `json:"confidence"`
	Reason      string         `json:"reason"`
	Pattern     memory.Pattern `json:"pattern"`
	Stage       string         `json:"stage"`
	AppliedAt   time.Time      `json:"applied_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether a manual boost has passed its expiry.
func (v *VectorOptimization) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}

// RetrievalOptimization is the cached parameter set of a user/bot pair.
type RetrievalOptimization struct {
	BoostedPatterns      []memory.Pattern           `json:"boosted_patterns"`
	PenalizedPatterns    []memory.Pattern           `json:"penalized_patterns"`
	RetrieveMore         []memory.Pattern           `json:"retrieve_more,omitempty"`
	QualityThreshold     float64                    `json:"quality_threshold"`
	MaxResultsAdjustment int                        `json:"max_results_adjustment"`
	RelevanceMultipliers map[memory.Pattern]float64 `json:"relevance_multipliers"`
	TemporalDecayFactor  float64                    `json:"temporal_decay_factor"`
	Timestamp            time.Time                  `json:"timestamp"`
	Confidence           float64                    `json:"confidence"`
	Fallback             bool                       `json:"fallback,omitempty"`
}

// OptimizationResult is the outcome of one optimize call.
type OptimizationResult struct {
	OriginalResults        []memory.Candidate   `json:"original_results"`
	OptimizedResults       []memory.Candidate   `json:"optimized_results"`
	OptimizationsApplied   []VectorOptimization `json:"optimizations_applied"`
	PerformanceImprovement float64              `json:"performance_improvement"`
	OptimizationCount      int                  `json:"optimization_count"`
	ProcessingTime         time.Duration        `json:"processing_time"`
	SkippedStages          []string             `json:"skipped_stages,omitempty"`
}

// Strategy is a recommended vector boost or penalty for one pattern.
type Strategy struct {
	Pattern           memory.Pattern `json:"pattern"`
	BoostFactor       float64        `json:"boost_factor"`
	Confidence        float64        `json:"confidence"`
	Reason            string         `json:"reason"`
	SuccessRate       float64        `json:"success_rate"`
	ImprovementFactor float64        `json:"improvement_factor"`
	UsageCount        int            `json:"usage_count"`
}

// QualityThresholds are score cut-offs scaled by the mean success rate.
type QualityThresholds struct {
	Minimum  float64 `json:"minimum"`
	Standard float64 `json:"standard"`
	High     float64 `json:"high"`
}

// TemporalSettings are the recency parameters recommended to the vector store.
type TemporalSettings struct {
	DecayFactor       float64 `json:"decay_factor"`
	RecentBoost       float64 `json:"recent_boost"`
	RecencyWindowDays int     `json:"recency_window_days"`
}

// DefaultTemporalSettings returns the fixed temporal recommendation.
func DefaultTemporalSettings() TemporalSettings {
	return TemporalSettings{DecayFactor: 0.95, RecentBoost: 1.2, RecencyWindowDays: 3}
}

// VectorRecommendations tune the vector store for a user/bot pair.
type VectorRecommendations struct {
	BoostStrategies   []Strategy        `json:"boost_strategies"`
	PenaltyStrategies []Strategy        `json:"penalty_strategies"`
	Priority          []memory.Pattern  `json:"priority"`
	QualityThresholds QualityThresholds `json:"quality_thresholds"`
	TemporalSettings  TemporalSettings  `json:"temporal_settings"`
	WindowDays        int               `json:"window_days"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Fallback          bool              `json:"fallback,omitempty"`
}
