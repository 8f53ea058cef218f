package effectiveness

import (
	"time"

	"github.com/goclaw/memopt/pkg/memory"
)

// Metrics is the effectiveness of one pattern over one analysis window.
type Metrics struct {
	Pattern             memory.Pattern `json:"pattern"`
	UsageCount          int            `json:"usage_count"`
	SuccessRate         float64        `json:"success_rate"`
	AverageOutcomeScore float64        `json:"average_outcome_score"`
	ImprovementFactor   float64        `json:"improvement_factor"`
	ConfidenceBoost     float64        `json:"confidence_boost"`
	UserSatisfaction    float64        `json:"user_satisfaction"`
	ResponseRelevance   float64        `json:"response_relevance"`
	LastUpdated         time.Time      `json:"last_updated"`
}

// QualityWeights are the fixed weights of the combined quality score.
var QualityWeights = struct {
	ContentRelevance   float64
	OutcomeCorrelation float64
	UsageFrequency     float64
	TemporalRelevance  float64
	EmotionalImpact    float64
}{0.25, 0.30, 0.20, 0.15, 0.10}

// QualityScore is the quality of one memory item. It is recomputed on every
// scoring call.
type QualityScore struct {
	MemoryID           string  `json:"memory_id"`
	ContentRelevance   float64 `json:"content_relevance"`
	OutcomeCorrelation float64 `json:"outcome_correlation"`
	UsageFrequency     float64 `json:"usage_frequency"`
	TemporalRelevance  float64 `json:"temporal_relevance"`
	EmotionalImpact    float64 `json:"emotional_impact"`
	CombinedScore      float64 `json:"combined_score"`
	BoostFactor        float64 `json:"boost_factor"`

	// Degraded is set when the score is the neutral default or was computed
	// without outcome history because the history could not be read.
	Degraded bool `json:"degraded,omitempty"`
}

// NeutralQualityScore is returned when a memory cannot be scored.
func NeutralQualityScore(memoryID string) QualityScore {
	q := QualityScore{
		MemoryID:           memoryID,
		ContentRelevance:   0.5,
		OutcomeCorrelation: 0.5,
		UsageFrequency:     0.3,
		TemporalRelevance:  0.5,
		EmotionalImpact:    0.3,
		BoostFactor:        1.0,
		Degraded:           true,
	}
	q.CombinedScore = q.combine()
	return q
}

func (q QualityScore) combine() float64 {
	w := QualityWeights
	return memory.Clamp01(w.ContentRelevance*q.ContentRelevance +
		w.OutcomeCorrelation*q.OutcomeCorrelation +
		w.UsageFrequency*q.UsageFrequency +
		w.TemporalRelevance*q.TemporalRelevance +
		w.EmotionalImpact*q.EmotionalImpact)
}

// QualityRequest identifies one memory to score.
type QualityRequest struct {
	MemoryID   string `json:"memory_id"`
	Content    string `json:"content"`
	MemoryType string `json:"memory_type"`
}

// Recommendations tell the optimizer how to tune retrieval for a user/bot pair.
type Recommendations struct {
	BoostPatterns         []memory.Pattern `json:"boost_patterns"`
	PenaltyPatterns       []memory.Pattern `json:"penalty_patterns"`
	RetrieveMore          []memory.Pattern `json:"retrieve_more"`
	QualityThreshold      float64          `json:"quality_threshold"`
	MemoryLimitAdjustment int              `json:"memory_limit_adjustment"`
	Confidence            float64          `json:"confidence"`
	GeneratedAt           time.Time        `json:"generated_at"`

	// Fallback is set when the values are the safe defaults.
	Fallback bool `json:"fallback,omitempty"`
}

// Memory limit adjustment bounds.
const (
	MinLimitAdjustment = -3
	MaxLimitAdjustment = 5
)

// DefaultRecommendations returns the safe recommendations used when no
// history is available.
func DefaultRecommendations(threshold float64) Recommendations {
	return Recommendations{
		BoostPatterns:         []memory.Pattern{memory.PatternConversationHistory, memory.PatternEmotionalContext},
		PenaltyPatterns:       []memory.Pattern{},
		RetrieveMore:          []memory.Pattern{},
		QualityThreshold:      threshold,
		MemoryLimitAdjustment: 0,
		Confidence:            0.5,
		GeneratedAt:           time.Now(),
		Fallback:              true,
	}
}
