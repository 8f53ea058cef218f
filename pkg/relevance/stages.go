package relevance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goclaw/memopt/pkg/memory"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// pipelineState is the read-only input shared by the stages of one call.
type pipelineState struct {
	userID        string
	botID         string
	context       *memory.OptimizationContext
	params        RetrievalOptimization
	detected      map[memory.Pattern]struct{}
	manual        map[string]VectorOptimization
	originalCount int
	now           time.Time
	cfg           Config
	logger        memory.Logger
}

// skip logs a candidate the current stage cannot process.
func (st *pipelineState) skip(stage string, c *memory.Candidate, reason error) {
	memory.LogError(st.logger, "candidate skipped by stage",
		memory.NewError(memory.KindMalformedCandidate, "relevance."+stage, reason),
		"memory_id", c.MemoryID)
}

func (st *pipelineState) record(stage string, c *memory.Candidate, bt BoostType, factor float64, reason string) VectorOptimization {
	return VectorOptimization{
		MemoryID:    c.MemoryID,
		BoostType:   bt,
		BoostFactor: factor,
		Confidence:  memory.Clamp01(st.params.Confidence),
		Reason:      reason,
		Pattern:     c.Pattern(),
		Stage:       stage,
		AppliedAt:   st.now,
	}
}

// stage is one pipeline transform. It may mutate the candidates it is given;
// the runner hands it a private copy.
type stage struct {
	name string
	run  func(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error)
}

func pipeline() []stage {
	return []stage{
		{name: StageQuality, run: qualityStage},
		{name: StagePattern, run: patternStage},
		{name: StageTemporal, run: temporalStage},
		{name: StageContext, run: contextStage},
		{name: StageFinal, run: finalStage},
	}
}

// runStage runs s on a copy of candidates. A panic is converted to a
// KindInternal error and the input is left untouched.
func (o *Optimizer) runStage(ctx context.Context, s stage, st *pipelineState, candidates []memory.Candidate) (out []memory.Candidate, ops []VectorOptimization, err error) {
	start := o.now()
	_, span := startSpan(ctx, spanStagePrefix+s.name, st.userID, st.botID)
	defer func() {
		if r := recover(); r != nil {
			out, ops = nil, nil
			err = memory.NewError(memory.KindInternal, "relevance."+s.name, fmt.Errorf("panic: %v", r))
		}
		status := "ok"
		if err != nil {
			status = "skipped"
			span.RecordError(err)
			span.SetStatus(codes.Error, memory.KindOf(err).String())
		}
		span.SetAttributes(attribute.Int("memopt.adjustments", len(ops)))
		span.End()
		o.metrics.RecordStage(s.name, status, len(ops), o.now().Sub(start))
	}()

	out, ops, err = s.run(st, memory.CloneCandidates(candidates))
	if err != nil {
		var merr *memory.Error
		if !errors.As(err, &merr) {
			err = memory.NewError(memory.KindInternal, "relevance."+s.name, err)
		}
		return nil, nil, err
	}
	for i := range out {
		if math.IsNaN(out[i].Score) || math.IsInf(out[i].Score, 0) {
			return nil, nil, memory.NewError(memory.KindInternal, "relevance."+s.name,
				fmt.Errorf("non-finite score for memory %q", out[i].MemoryID))
		}
	}
	return out, ops, nil
}

// qualityStage applies each candidate's own content relevance from earlier
// quality scoring. Candidates without quality metadata are left alone.
func qualityStage(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
	var ops []VectorOptimization
	cfg := st.cfg
	for i := range candidates {
		c := &candidates[i]
		if c.Quality == nil {
			continue
		}
		cr := c.Quality.ContentRelevance
		if math.IsNaN(cr) || cr < 0 || cr > 1 {
			st.skip(StageQuality, c, fmt.Errorf("content relevance %v out of range", cr))
			continue
		}

		var (
			factor float64
			bt     BoostType
			reason string
		)
		switch {
		case cr > cfg.QualityBoostThreshold:
			factor = 1 + (cr-cfg.QualityBoostThreshold)*qualityBoostGain
			bt = BoostScoreMultiplier
			reason = fmt.Sprintf("high content relevance %.2f", cr)
		case cr < cfg.QualityPenaltyThreshold:
			factor = 0.5 + cr/cfg.QualityPenaltyThreshold*0.5
			bt = BoostThresholdAdjustment
			reason = fmt.Sprintf("low content relevance %.2f", cr)
		default:
			continue
		}
		factor = memory.ClampBoost(memory.Clamp(factor, cfg.MaxPenaltyFactor, cfg.MaxBoostFactor))
		c.Score *= factor
		ops = append(ops, st.record(StageQuality, c, bt, factor, reason))
	}
	return candidates, ops, nil
}

// patternStage applies learned pattern multipliers, query-pattern matches and
// unexpired manual boosts.
func patternStage(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
	var ops []VectorOptimization
	for i := range candidates {
		c := &candidates[i]
		p := c.Pattern()

		factor := 1.0
		var reason string
		if m, ok := st.params.RelevanceMultipliers[p]; ok && m > 0 {
			factor *= m
			if m >= 1 {
				reason = fmt.Sprintf("pattern %s is effective", p)
			} else {
				reason = fmt.Sprintf("pattern %s is ineffective", p)
			}
		}
		if _, ok := st.detected[p]; ok {
			factor *= queryMatchMultiplier
			if reason != "" {
				reason += "; "
			}
			reason += fmt.Sprintf("query asks for %s", p)
		}
		if factor != 1.0 {
			factor = memory.ClampBoost(factor)
			c.Score *= factor
			ops = append(ops, st.record(StagePattern, c, BoostScoreMultiplier, factor, reason))
		}

		if mb, ok := st.manual[c.MemoryID]; ok && !mb.Expired(st.now) {
			f := memory.ClampBoost(mb.BoostFactor)
			c.Score *= f
			op := st.record(StagePattern, c, BoostRanking, f, mb.Reason)
			op.ID = mb.ID
			op.Confidence = mb.Confidence
			op.ExpiresAt = mb.ExpiresAt
			ops = append(ops, op)
		}
	}
	return candidates, ops, nil
}

// temporalStage decays scores by age and lifts very recent preference and
// relationship memories.
func temporalStage(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
	var ops []VectorOptimization
	decay := st.params.TemporalDecayFactor
	if decay <= 0 || decay > 1 {
		decay = st.cfg.TemporalDecayFactor
	}
	for i := range candidates {
		c := &candidates[i]
		if c.CreatedAt.IsZero() {
			st.skip(StageTemporal, c, errors.New("missing created_at"))
			continue
		}
		age := st.now.Sub(c.CreatedAt)
		if age < 0 {
			age = 0
		}
		days := age.Hours() / 24

		factor := math.Pow(decay, days)
		reason := fmt.Sprintf("%.1f days old", days)
		p := c.Pattern()
		if age <= recentMemoryWindow && (p == memory.PatternPreferenceMemory || p == memory.PatternRelationshipContext) {
			factor *= recentMemoryBoost
			reason += ", recent " + string(p)
		}
		factor = memory.ClampBoost(factor)
		c.Score *= factor
		if math.Abs(factor-1) >= 0.01 {
			ops = append(ops, st.record(StageTemporal, c, BoostScoreMultiplier, factor, reason))
		}
	}
	return candidates, ops, nil
}

// contextStage boosts candidates whose content strongly overlaps the
// conversation context.
func contextStage(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
	text := st.context.Text()
	if text == "" {
		return candidates, nil, nil
	}
	var ops []VectorOptimization
	for i := range candidates {
		c := &candidates[i]
		ratio := memory.OverlapRatio(c.Content, text)
		if ratio <= contextOverlapThreshold {
			continue
		}
		factor := memory.ClampBoost(1 + (ratio-contextOverlapThreshold)*contextOverlapGain)
		c.Score *= factor
		ops = append(ops, st.record(StageContext, c, BoostVectorEnhancement, factor,
			fmt.Sprintf("context overlap %.2f", ratio)))
	}
	return candidates, ops, nil
}

// finalStage drops candidates under the quality threshold, sorts by score and
// truncates to the adjusted result count.
func finalStage(st *pipelineState, candidates []memory.Candidate) ([]memory.Candidate, []VectorOptimization, error) {
	kept := make([]memory.Candidate, 0, len(candidates))
	for i := range candidates {
		if candidates[i].Score >= st.params.QualityThreshold {
			kept = append(kept, candidates[i])
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	limit := st.originalCount + st.params.MaxResultsAdjustment
	if limit < 1 {
		limit = 1
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil, nil
}
