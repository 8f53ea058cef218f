package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/goclaw/memopt/pkg/cache"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/google/uuid"
)

// BoostEffectiveMemories issues a manual boost for the memories that served
// pattern in successful conversations. The boosts replace the pattern's
// previous manual boosts and expire after ManualBoostTTL. The pattern stage
// of later optimizations applies them.
func (o *Optimizer) BoostEffectiveMemories(ctx context.Context, userID, botID string, pattern memory.Pattern, boostFactor float64, reason string) []VectorOptimization {
	ops, err := o.boostEffectiveMemories(ctx, userID, botID, pattern, boostFactor, reason)
	if err != nil {
		memory.LogError(o.logger, "manual boost not applied", err,
			"user_id", userID, "bot_id", botID, "pattern", pattern)
		return []VectorOptimization{}
	}
	return ops
}

func (o *Optimizer) boostEffectiveMemories(ctx context.Context, userID, botID string, pattern memory.Pattern, boostFactor float64, reason string) ([]VectorOptimization, error) {
	const op = "relevance.manual_boost"
	ctx, span := startSpan(ctx, spanManualBoost, userID, botID)
	defer span.End()

	p, err := memory.ParsePattern(string(pattern))
	if err != nil {
		return nil, memory.NewError(memory.KindDataUnavailable, op, err)
	}
	ids, err := o.analyzer.EffectiveMemories(ctx, userID, botID, p)
	if err != nil {
		return nil, err
	}

	cfg := o.Config()
	now := o.now()
	expires := now.Add(cfg.ManualBoostTTL)
	factor := memory.ClampBoost(boostFactor)
	if strings.TrimSpace(reason) == "" {
		reason = fmt.Sprintf("manual boost of effective %s memories", p)
	}

	ops := make([]VectorOptimization, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, VectorOptimization{
			ID:          uuid.NewString(),
			MemoryID:    id,
			BoostType:   BoostRanking,
			BoostFactor: factor,
			Confidence:  1.0,
			Reason:      reason,
			Pattern:     p,
			Stage:       StageManual,
			AppliedAt:   now,
			ExpiresAt:   &expires,
		})
	}

	if err := o.boosts.Set(ctx, cache.Key(userID, botID, string(p)), ops); err != nil {
		return nil, memory.NewError(memory.KindUpstreamTimeout, op, err)
	}
	o.metrics.RecordManualBoost(string(p), len(ops))
	return ops, nil
}

// ActiveBoosts returns the unexpired manual boosts of a pattern.
func (o *Optimizer) ActiveBoosts(ctx context.Context, userID, botID string, pattern memory.Pattern) []VectorOptimization {
	cfg := o.Config()
	stored, age, ok := o.boosts.Get(ctx, cache.Key(userID, botID, string(pattern)))
	if !ok || age > cfg.ManualBoostTTL {
		o.metrics.RecordCacheLookup(cacheManualBoosts, "miss")
		return nil
	}
	o.metrics.RecordCacheLookup(cacheManualBoosts, "hit")

	now := o.now()
	active := make([]VectorOptimization, 0, len(stored))
	for _, b := range stored {
		if !b.Expired(now) {
			active = append(active, b)
		}
	}
	return active
}

// activeBoosts loads every unexpired manual boost of a user/bot pair, keyed
// by memory id. When a memory is boosted under several patterns the strongest
// boost wins.
func (o *Optimizer) activeBoosts(ctx context.Context, userID, botID string) map[string]VectorOptimization {
	byMemory := make(map[string]VectorOptimization)
	for _, p := range memory.AllPatterns() {
		for _, b := range o.ActiveBoosts(ctx, userID, botID, p) {
			if prev, ok := byMemory[b.MemoryID]; !ok || b.BoostFactor > prev.BoostFactor {
				byMemory[b.MemoryID] = b
			}
		}
	}
	return byMemory
}
