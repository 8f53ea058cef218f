package relevance

import (
	"context"
	"fmt"
	"sort"

	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
)

// ApplyQualityScoring scores every candidate and re-ranks them. The new score
// is the candidate's unboosted base score times its boost factor, so applying
// it again to the result gives the same ranking instead of compounding.
// Quality metadata is attached for the quality stage of a later
// optimization. On failure the candidates are returned unchanged.
func (o *Optimizer) ApplyQualityScoring(ctx context.Context, candidates []memory.Candidate, userID, botID string) (out []memory.Candidate) {
	out = memory.CloneCandidates(candidates)
	if len(out) == 0 {
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			err := memory.NewError(memory.KindInternal, "relevance.apply_quality", fmt.Errorf("panic: %v", r))
			memory.LogError(o.logger, "quality scoring failed, candidates unchanged", err,
				"user_id", userID, "bot_id", botID)
			out = memory.CloneCandidates(candidates)
		}
	}()

	ctx, span := startSpan(ctx, spanQualityScoring, userID, botID)
	defer span.End()

	reqs := make([]effectiveness.QualityRequest, len(out))
	for i := range out {
		reqs[i] = effectiveness.QualityRequest{
			MemoryID:   out[i].MemoryID,
			Content:    out[i].Content,
			MemoryType: out[i].MemoryType,
		}
	}

	scores, err := o.analyzer.ScoreBatch(ctx, userID, botID, reqs)
	if err != nil {
		memory.LogError(o.logger, "quality scoring degraded", err,
			"user_id", userID, "bot_id", botID, "candidates", len(out))
	}
	if len(scores) != len(out) {
		return out
	}

	for i := range out {
		c := &out[i]
		q := scores[i]
		base := c.KeepOriginalScore()
		c.Score = base * memory.ClampBoost(q.BoostFactor)
		c.Quality = &memory.QualityMetadata{
			ContentRelevance:   q.ContentRelevance,
			OutcomeCorrelation: q.OutcomeCorrelation,
			CombinedScore:      q.CombinedScore,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
