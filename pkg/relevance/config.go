package relevance

import "time"

// Pipeline constants.
const (
	boostedPatternMultiplier   = 1.3
	penalizedPatternMultiplier = 0.7
	queryMatchMultiplier       = 1.2
	recentMemoryBoost          = 1.2
	recentMemoryWindow         = 24 * time.Hour
	contextOverlapThreshold    = 0.7
	contextOverlapGain         = 1.5
	qualityBoostGain           = 2.5
	performanceTopN            = 10

	// staleGraceFactor keeps cached parameters around past their TTL so they
	// can stand in when the history source times out.
	staleGraceFactor = 2
)

// Config holds optimizer tunables.
type Config struct {
	// QualityBoostThreshold is the content relevance above which the
	// quality stage boosts a candidate.
	QualityBoostThreshold float64

	// QualityPenaltyThreshold is the content relevance below which the
	// quality stage penalizes a candidate.
	QualityPenaltyThreshold float64

	// BoostThreshold is the pattern success rate above which a vector
	// boost strategy is recommended.
	BoostThreshold float64

	// PenaltyThreshold is the pattern success rate below which a vector
	// penalty strategy is recommended.
	PenaltyThreshold float64

	// MaxBoostFactor caps quality-stage boosts and boost strategies.
	MaxBoostFactor float64

	// MaxPenaltyFactor floors quality-stage penalties and penalty strategies.
	MaxPenaltyFactor float64

	// TemporalDecayFactor is the per-day score decay of a memory's age.
	TemporalDecayFactor float64

	// CacheTTL is how long resolved parameters and recommendations stay fresh.
	CacheTTL time.Duration

	// ManualBoostTTL is the lifetime of a manually issued boost.
	ManualBoostTTL time.Duration

	// RecommendationWindowDays is the default window of vector recommendations.
	RecommendationWindowDays int

	// SinkTimeout bounds a single metrics sink write.
	SinkTimeout time.Duration
}

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() Config {
	return Config{
		QualityBoostThreshold:    0.8,
		QualityPenaltyThreshold:  0.4,
		BoostThreshold:           0.8,
		PenaltyThreshold:         0.3,
		MaxBoostFactor:           2.5,
		MaxPenaltyFactor:         0.3,
		TemporalDecayFactor:      0.95,
		CacheTTL:                 30 * time.Minute,
		ManualBoostTTL:           24 * time.Hour,
		RecommendationWindowDays: 7,
		SinkTimeout:              500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QualityBoostThreshold <= 0 || c.QualityBoostThreshold > 1 {
		c.QualityBoostThreshold = d.QualityBoostThreshold
	}
	if c.QualityPenaltyThreshold <= 0 || c.QualityPenaltyThreshold >= c.QualityBoostThreshold {
		c.QualityPenaltyThreshold = d.QualityPenaltyThreshold
	}
	if c.BoostThreshold <= 0 || c.BoostThreshold > 1 {
		c.BoostThreshold = d.BoostThreshold
	}
	if c.PenaltyThreshold <= 0 || c.PenaltyThreshold >= c.BoostThreshold {
		c.PenaltyThreshold = d.PenaltyThreshold
	}
	if c.MaxBoostFactor <= 1 {
		c.MaxBoostFactor = d.MaxBoostFactor
	}
	if c.MaxPenaltyFactor <= 0 || c.MaxPenaltyFactor >= 1 {
		c.MaxPenaltyFactor = d.MaxPenaltyFactor
	}
	if c.TemporalDecayFactor <= 0 || c.TemporalDecayFactor > 1 {
		c.TemporalDecayFactor = d.TemporalDecayFactor
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.ManualBoostTTL <= 0 {
		c.ManualBoostTTL = d.ManualBoostTTL
	}
	if c.RecommendationWindowDays <= 0 {
		c.RecommendationWindowDays = d.RecommendationWindowDays
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = d.SinkTimeout
	}
	return c
}

// ParamsCacheTTL is the storage TTL to give a parameter cache built for cfg.
// Entries older than cfg.CacheTTL are treated as stale but may still serve
// as a fallback.
func ParamsCacheTTL(cfg Config) time.Duration {
	return cfg.withDefaults().CacheTTL * staleGraceFactor
}
