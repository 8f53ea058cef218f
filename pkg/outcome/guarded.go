package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/goclaw/memopt/pkg/memory"
	"golang.org/x/time/rate"
)

// MetricsRecorder receives one observation per source call.
type MetricsRecorder interface {
	RecordSourceFetch(status string, records int, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordSourceFetch(string, int, time.Duration) {}

// GuardConfig bounds calls to a Source.
type GuardConfig struct {
	// Timeout bounds a single call. Zero disables the timeout.
	Timeout time.Duration

	// RateLimit is the sustained calls per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size.
	Burst int
}

// DefaultGuardConfig returns the default guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:   2 * time.Second,
		RateLimit: 50,
		Burst:     100,
	}
}

// Guarded wraps a Source with a bounded timeout and a rate limit, and maps
// failures onto engine error kinds: deadline expiry becomes
// KindUpstreamTimeout, any other failure KindDataUnavailable.
type Guarded struct {
	source  Source
	timeout time.Duration
	limiter *rate.Limiter
	metrics MetricsRecorder
}

// NewGuarded wraps source. A nil recorder disables metrics.
func NewGuarded(source Source, cfg GuardConfig, recorder MetricsRecorder) *Guarded {
	g := &Guarded{
		source:  source,
		timeout: cfg.Timeout,
		metrics: recorder,
	}
	if g.metrics == nil {
		g.metrics = nopMetrics{}
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

// GetConversationAnalyses calls the wrapped source within the guard.
func (g *Guarded) GetConversationAnalyses(ctx context.Context, userID, botID string, daysBack int) ([]memory.ConversationAnalysis, error) {
	const op = "outcome.fetch"
	start := time.Now()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.metrics.RecordSourceFetch("rate_limited", 0, time.Since(start))
			return nil, memory.NewError(memory.KindUpstreamTimeout, op, err)
		}
	}

	type result struct {
		analyses []memory.ConversationAnalysis
		err      error
	}
	done := make(chan result, 1)
	go func() {
		analyses, err := g.source.GetConversationAnalyses(ctx, userID, botID, daysBack)
		done <- result{analyses: analyses, err: err}
	}()

	select {
	case <-ctx.Done():
		g.metrics.RecordSourceFetch("timeout", 0, time.Since(start))
		return nil, memory.NewError(memory.KindUpstreamTimeout, op, ctx.Err())
	case res := <-done:
		switch {
		case res.err == nil:
			g.metrics.RecordSourceFetch("ok", len(res.analyses), time.Since(start))
			return res.analyses, nil
		case errors.Is(res.err, context.DeadlineExceeded):
			g.metrics.RecordSourceFetch("timeout", 0, time.Since(start))
			return nil, memory.NewError(memory.KindUpstreamTimeout, op, res.err)
		default:
			g.metrics.RecordSourceFetch("error", 0, time.Since(start))
			return nil, memory.NewError(memory.KindDataUnavailable, op, res.err)
		}
	}
}
