package effectiveness

import "time"

// Config holds analyzer tunables.
type Config struct {
	// MinSampleSize is the minimum number of conversations for a window,
	// and for a single pattern, before metrics are reported.
	MinSampleSize int

	// AnalysisWindowDays is the window used by quality scoring and
	// effective-memory lookups.
	AnalysisWindowDays int

	// RecommendationWindowDays is the short window used for recommendations.
	RecommendationWindowDays int

	// QualityThreshold is the base minimum score recommended to the optimizer.
	QualityThreshold float64

	// BoostThreshold is the success rate above which a pattern is boosted,
	// and the combined quality score above which a memory is boosted.
	BoostThreshold float64

	// PenaltyThreshold is the success rate below which a pattern is penalized,
	// and the combined quality score below which a memory is penalized.
	PenaltyThreshold float64

	// TemporalDecayFactor is the per-day decay of temporal relevance.
	TemporalDecayFactor float64

	// SinkTimeout bounds a single metrics sink write.
	SinkTimeout time.Duration
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MinSampleSize:            10,
		AnalysisWindowDays:       14,
		RecommendationWindowDays: 7,
		QualityThreshold:         0.7,
		BoostThreshold:           0.8,
		PenaltyThreshold:         0.3,
		TemporalDecayFactor:      0.95,
		SinkTimeout:              500 * time.Millisecond,
	}
}

// withDefaults replaces unset or out-of-range values with defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = d.MinSampleSize
	}
	if c.AnalysisWindowDays <= 0 {
		c.AnalysisWindowDays = d.AnalysisWindowDays
	}
	if c.RecommendationWindowDays <= 0 {
		c.RecommendationWindowDays = d.RecommendationWindowDays
	}
	if c.QualityThreshold <= 0 || c.QualityThreshold > 1 {
		c.QualityThreshold = d.QualityThreshold
	}
	if c.BoostThreshold <= 0 || c.BoostThreshold > 1 {
		c.BoostThreshold = d.BoostThreshold
	}
	if c.PenaltyThreshold <= 0 || c.PenaltyThreshold >= c.BoostThreshold {
		c.PenaltyThreshold = d.PenaltyThreshold
	}
	if c.TemporalDecayFactor <= 0 || c.TemporalDecayFactor > 1 {
		c.TemporalDecayFactor = d.TemporalDecayFactor
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	return c
}
