package effectiveness

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goclaw/memopt/pkg/memory"
)

// Outcome correlation prior used when a memory has little or no history.
const (
	correlationPrior       = 0.6
	correlationPriorWeight = 3.0
)

// usageSaturation is the retrieval count at which usage frequency reaches 1.
const usageSaturation = 20

var affectTerms = map[string]struct{}{
	"love": {}, "loved": {}, "hate": {}, "happy": {}, "sad": {}, "angry": {},
	"afraid": {}, "scared": {}, "excited": {}, "worried": {}, "anxious": {},
	"lonely": {}, "proud": {}, "grateful": {}, "upset": {}, "miss": {},
	"hurt": {}, "joy": {}, "cry": {}, "cried": {}, "fear": {}, "hope": {},
	"feel": {}, "feeling": {}, "felt": {}, "glad": {}, "sorry": {},
	"stressed": {}, "nervous": {}, "depressed": {}, "thrilled": {},
	"frustrated": {}, "heartbroken": {}, "ashamed": {}, "overwhelmed": {},
}

// ScoreBatch scores several memories of one user/bot pair against a single
// read of the outcome history. If the history cannot be read the memories
// are scored as if they had no history, marked degraded, and the error is
// returned alongside.
func (a *Analyzer) ScoreBatch(ctx context.Context, userID, botID string, reqs []QualityRequest) (scores []QualityScore, err error) {
	const op = "effectiveness.score_quality"
	start := a.now()
	ctx, span := startSpan(ctx, op, userID, botID)
	defer func() {
		endSpan(span, err)
		a.observe("score_quality", start, err)
	}()

	scores = make([]QualityScore, len(reqs))
	if len(reqs) == 0 {
		return scores, nil
	}

	cfg := a.Config()
	analyses, fetchErr := a.fetch(ctx, op, userID, botID, cfg.AnalysisWindowDays)
	if fetchErr != nil {
		analyses = nil
	}

	now := a.now()
	firstErr := fetchErr
	for i, req := range reqs {
		q, serr := scoreOne(req, analyses, cfg, now)
		if serr != nil && firstErr == nil {
			firstErr = serr
		}
		if fetchErr != nil {
			q.Degraded = true
		}
		scores[i] = q
	}
	return scores, firstErr
}

// ScoreMemoryQuality scores one memory. It never fails: on any error the
// neutral score is returned.
func (a *Analyzer) ScoreMemoryQuality(ctx context.Context, memoryID, userID, botID, content, memoryType string) QualityScore {
	scores := a.ScoreMemoryQualities(ctx, userID, botID, []QualityRequest{{
		MemoryID:   memoryID,
		Content:    content,
		MemoryType: memoryType,
	}})
	return scores[0]
}

// ScoreMemoryQualities is the fail-open form of ScoreBatch.
func (a *Analyzer) ScoreMemoryQualities(ctx context.Context, userID, botID string, reqs []QualityRequest) []QualityScore {
	scores, err := a.ScoreBatch(ctx, userID, botID, reqs)
	if err != nil {
		memory.LogError(a.logger, "memory quality scoring degraded", err,
			"user_id", userID, "bot_id", botID, "memories", len(reqs))
	}
	return scores
}

// scoreOne computes the quality of one memory. A panic in any component
// yields the neutral score.
func scoreOne(req QualityRequest, analyses []memory.ConversationAnalysis, cfg Config, now time.Time) (q QualityScore, err error) {
	defer func() {
		if r := recover(); r != nil {
			q = NeutralQualityScore(req.MemoryID)
			err = memory.NewError(memory.KindInternal, "effectiveness.score_one", fmt.Errorf("panic: %v", r))
		}
	}()
	if strings.TrimSpace(req.MemoryID) == "" {
		return NeutralQualityScore(req.MemoryID), memory.NewError(memory.KindMalformedCandidate, "effectiveness.score_one", memory.ErrInvalidMemoryID)
	}

	var (
		uses      int
		successes int
		lastUsed  time.Time
	)
	for i := range analyses {
		an := &analyses[i]
		if !an.UsesMemory(req.MemoryID) {
			continue
		}
		uses++
		if an.Outcome.Successful() {
			successes++
		}
		if an.Timestamp.After(lastUsed) {
			lastUsed = an.Timestamp
		}
	}

	q = QualityScore{
		MemoryID:           req.MemoryID,
		ContentRelevance:   contentRelevance(req.Content, req.MemoryType),
		OutcomeCorrelation: outcomeCorrelation(uses, successes),
		UsageFrequency:     usageFrequency(uses),
		TemporalRelevance:  temporalRelevance(lastUsed, now, cfg.TemporalDecayFactor),
		EmotionalImpact:    emotionalImpact(req.Content, req.MemoryType),
	}
	finalize(&q, cfg)
	return q, nil
}

// finalize fills the combined score and boost factor from the components.
func finalize(q *QualityScore, cfg Config) {
	q.CombinedScore = q.combine()
	q.BoostFactor = boostFactor(q.CombinedScore, q.OutcomeCorrelation, cfg)
}

// boostFactor maps a combined score onto a ranking multiplier. Scores inside
// the neutral band keep a factor of exactly 1; outside it the factor is
// further scaled by a strong or weak outcome correlation.
func boostFactor(combined, correlation float64, cfg Config) float64 {
	var factor float64
	switch {
	case combined > cfg.BoostThreshold:
		factor = math.Min(memory.MaxBoostFactor, 1+(combined-cfg.BoostThreshold)*2)
	case combined < cfg.PenaltyThreshold:
		factor = math.Max(memory.MinBoostFactor, 0.5+(combined/cfg.PenaltyThreshold)*0.5)
	default:
		return 1.0
	}
	switch {
	case correlation > 0.8:
		factor *= 1.2
	case correlation < 0.3:
		factor *= 0.8
	}
	return memory.ClampBoost(factor)
}

// contentRelevance rates content by length and memory type. Very short or
// very long memories are less useful as prompt context.
func contentRelevance(content, memoryType string) float64 {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	if n == 0 {
		return 0.1
	}

	var score float64
	switch {
	case n < 20:
		score = 0.4
	case n < 50:
		score = 0.6
	case n <= 500:
		score = 0.8
	default:
		score = 0.65
	}

	switch memory.PatternForType(memoryType) {
	case memory.PatternFactualRecall, memory.PatternPreferenceMemory, memory.PatternRelationshipContext:
		score += 0.1
	case memory.PatternConversationHistory:
		score -= 0.05
	}
	if strings.IndexFunc(content, unicode.IsDigit) >= 0 {
		score += 0.05
	}
	return memory.Clamp01(score)
}

func outcomeCorrelation(uses, successes int) float64 {
	return memory.Clamp01((float64(successes) + correlationPrior*correlationPriorWeight) /
		(float64(uses) + correlationPriorWeight))
}

func usageFrequency(uses int) float64 {
	if uses <= 0 {
		return 0
	}
	return memory.Clamp01(math.Log1p(float64(uses)) / math.Log1p(usageSaturation))
}

// temporalRelevance decays per day since the memory was last used in a
// conversation. Memories never seen in the window get a neutral 0.5.
func temporalRelevance(lastUsed, now time.Time, decay float64) float64 {
	if lastUsed.IsZero() {
		return 0.5
	}
	days := now.Sub(lastUsed).Hours() / 24
	if days < 0 {
		days = 0
	}
	return memory.Clamp01(math.Max(0.1, math.Pow(decay, days)))
}

func emotionalImpact(content, memoryType string) float64 {
	tokens := memory.Tokenize(content)
	score := 0.1
	if len(tokens) > 0 {
		hits := 0
		for _, t := range tokens {
			if _, ok := affectTerms[t]; ok {
				hits++
			}
		}
		score += math.Min(0.6, float64(hits)/float64(len(tokens))*4)
	}
	if memory.PatternForType(memoryType) == memory.PatternEmotionalContext {
		score += 0.2
	}
	return memory.Clamp01(score)
}
