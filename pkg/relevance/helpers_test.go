package relevance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/memory"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

// fakeAnalyzer is a scripted Analyzer that counts calls.
type fakeAnalyzer struct {
	mu sync.Mutex

	rec       effectiveness.Recommendations
	recErr    error
	perf      map[memory.Pattern]effectiveness.Metrics
	perfErr   error
	boost     float64
	scoreErr  error
	effective []string
	effErr    error

	recommendCalls   atomic.Int32
	performanceCalls atomic.Int32
	scoreCalls       atomic.Int32
}

func (f *fakeAnalyzer) setRecommendation(rec effectiveness.Recommendations, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec, f.recErr = rec, err
}

func (f *fakeAnalyzer) Performance(context.Context, string, string, int) (map[memory.Pattern]effectiveness.Metrics, error) {
	f.performanceCalls.Add(1)
	return f.perf, f.perfErr
}

func (f *fakeAnalyzer) Recommend(context.Context, string, string, *memory.OptimizationContext) (effectiveness.Recommendations, error) {
	f.recommendCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec, f.recErr
}

func (f *fakeAnalyzer) ScoreBatch(_ context.Context, _, _ string, reqs []effectiveness.QualityRequest) ([]effectiveness.QualityScore, error) {
	f.scoreCalls.Add(1)
	out := make([]effectiveness.QualityScore, len(reqs))
	for i, r := range reqs {
		if f.scoreErr != nil {
			out[i] = effectiveness.NeutralQualityScore(r.MemoryID)
			continue
		}
		boost := f.boost
		if boost == 0 {
			boost = 1
		}
		// Longer content scores higher so the ranking is deterministic.
		out[i] = effectiveness.QualityScore{
			MemoryID:           r.MemoryID,
			ContentRelevance:   memory.Clamp01(float64(len(r.Content)) / 50),
			OutcomeCorrelation: 0.6,
			CombinedScore:      0.6,
			BoostFactor:        boost * (1 + float64(len(r.Content))/100),
		}
	}
	return out, f.scoreErr
}

func (f *fakeAnalyzer) EffectiveMemories(context.Context, string, string, memory.Pattern) ([]string, error) {
	return f.effective, f.effErr
}

func defaultRec() effectiveness.Recommendations {
	return effectiveness.Recommendations{
		BoostPatterns:    []memory.Pattern{memory.PatternPreferenceMemory},
		PenaltyPatterns:  []memory.Pattern{memory.PatternTechnicalKnowledge},
		QualityThreshold: 0.5,
		Confidence:       0.8,
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestOptimizer(t *testing.T, a Analyzer, opts ...Option) (*Optimizer, *clock) {
	t.Helper()
	clk := &clock{now: testNow}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return NewOptimizer(a, DefaultConfig(), opts...), clk
}

func cand(id, memoryType string, score float64, age time.Duration, content string) memory.Candidate {
	return memory.Candidate{
		MemoryID:      id,
		Content:       content,
		MemoryType:    memoryType,
		Score:         score,
		OriginalScore: &score,
		CreatedAt:     testNow.Add(-age),
	}
}

func ids(candidates []memory.Candidate) []string {
	out := make([]string, len(candidates))
	for i := range candidates {
		out[i] = candidates[i].MemoryID
	}
	return out
}
