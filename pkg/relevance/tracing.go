package relevance

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "memopt.relevance"

const (
	spanOptimize        = "relevance.optimize"
	spanStagePrefix     = "relevance.stage."
	spanQualityScoring  = "relevance.quality_scoring"
	spanManualBoost     = "relevance.manual_boost"
	spanRecommendations = "relevance.vector_recommendations"
)

func startSpan(ctx context.Context, name, userID, botID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("memopt.user_id", userID),
		attribute.String("memopt.bot_id", botID),
	))
}
