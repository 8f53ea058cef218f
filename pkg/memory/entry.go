// Package memory holds the shared types of the memory effectiveness and
// relevance optimization engine: memory patterns, conversation outcomes,
// retrieval candidates and the error taxonomy.
package memory

import (
	"strings"
	"time"
)

// Pattern describes why a stored memory is useful to a conversation.
type Pattern string

const (
	PatternFactualRecall       Pattern = "factual_recall"
	PatternEmotionalContext    Pattern = "emotional_context"
	PatternConversationHistory Pattern = "conversation_history"
	PatternPreferenceMemory    Pattern = "preference_memory"
	PatternRelationshipContext Pattern = "relationship_context"
	PatternTechnicalKnowledge  Pattern = "technical_knowledge"
	PatternCreativeInspiration Pattern = "creative_inspiration"
)

// AllPatterns returns every pattern in a stable order.
func AllPatterns() []Pattern {
	return []Pattern{
		PatternFactualRecall,
		PatternEmotionalContext,
		PatternConversationHistory,
		PatternPreferenceMemory,
		PatternRelationshipContext,
		PatternTechnicalKnowledge,
		PatternCreativeInspiration,
	}
}

// ParsePattern parses a pattern name.
func ParsePattern(s string) (Pattern, error) {
	p := Pattern(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPatterns() {
		if p == known {
			return p, nil
		}
	}
	return "", ErrUnknownPattern
}

// PatternForType maps a stored memory type to the pattern it serves.
// Unknown types are treated as conversation history.
func PatternForType(memoryType string) Pattern {
	switch strings.ToLower(strings.TrimSpace(memoryType)) {
	case "fact", "factual", "factual_recall":
		return PatternFactualRecall
	case "emotion", "emotional", "emotional_context":
		return PatternEmotionalContext
	case "preference", "preferences", "preference_memory":
		return PatternPreferenceMemory
	case "relationship", "personal", "relationship_context":
		return PatternRelationshipContext
	case "technical", "knowledge", "technical_knowledge":
		return PatternTechnicalKnowledge
	case "creative", "idea", "creative_inspiration":
		return PatternCreativeInspiration
	default:
		return PatternConversationHistory
	}
}

// Outcome is the quality label of a finished conversation.
// Values are ordered: failed < poor < average < good < excellent.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomePoor
	OutcomeAverage
	OutcomeGood
	OutcomeExcellent
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomePoor:
		return "poor"
	case OutcomeAverage:
		return "average"
	case OutcomeGood:
		return "good"
	case OutcomeExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// ParseOutcome parses an outcome label. Unknown labels map to average.
func ParseOutcome(s string) Outcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "failed":
		return OutcomeFailed
	case "poor":
		return OutcomePoor
	case "good":
		return OutcomeGood
	case "excellent":
		return OutcomeExcellent
	default:
		return OutcomeAverage
	}
}

// Score maps the outcome onto [0, 1].
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeFailed:
		return 0.0
	case OutcomePoor:
		return 0.25
	case OutcomeGood:
		return 0.75
	case OutcomeExcellent:
		return 1.0
	default:
		return 0.5
	}
}

// Successful reports whether the outcome counts as a success (good or excellent).
func (o Outcome) Successful() bool {
	return o >= OutcomeGood
}

// ConversationAnalysis is an externally produced record of one finished
// conversation. It is treated as immutable once created.
type ConversationAnalysis struct {
	ConversationID  string    `json:"conversation_id"`
	UserID          string    `json:"user_id"`
	BotID           string    `json:"bot_id"`
	Outcome         Outcome   `json:"outcome"`
	QualityScore    float64   `json:"quality_score"`
	ConfidenceScore float64   `json:"confidence_score"`
	MemoryIDs       []string  `json:"memory_ids,omitempty"`
	Patterns        []Pattern `json:"patterns,omitempty"`
	SentimentScore  float64   `json:"sentiment_score"`
	EngagementScore float64   `json:"engagement_score"`
	Timestamp       time.Time `json:"timestamp"`
}

// UsesPattern reports whether the conversation used the pattern.
func (a *ConversationAnalysis) UsesPattern(p Pattern) bool {
	for _, used := range a.Patterns {
		if used == p {
			return true
		}
	}
	return false
}

// UsesMemory reports whether the conversation used the memory.
func (a *ConversationAnalysis) UsesMemory(memoryID string) bool {
	for _, id := range a.MemoryIDs {
		if id == memoryID {
			return true
		}
	}
	return false
}

// QualityMetadata is quality information previously attached to a candidate.
type QualityMetadata struct {
	ContentRelevance   float64 `json:"content_relevance"`
	OutcomeCorrelation float64 `json:"outcome_correlation,omitempty"`
	CombinedScore      float64 `json:"combined_score,omitempty"`
}

// Candidate is one retrieved memory offered for re-ranking.
type Candidate struct {
	// MemoryID identifies the stored memory.
	MemoryID string `json:"memory_id"`

	// Content is the raw text of the memory.
	Content string `json:"content"`

	// MemoryType is the stored memory type (fact, preference, ...).
	MemoryType string `json:"memory_type,omitempty"`

	// Score is the current ranking score.
	Score float64 `json:"score"`

	// OriginalScore is the score the retriever produced, before any boost.
	// Nil until a caller or a quality pass records it.
	OriginalScore *float64 `json:"original_score,omitempty"`

	// CreatedAt is when the memory was stored.
	CreatedAt time.Time `json:"created_at"`

	// Quality is optional quality metadata from an earlier scoring pass.
	Quality *QualityMetadata `json:"quality,omitempty"`

	// Metadata holds arbitrary key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// BaseScore returns the unboosted score of the candidate.
func (c *Candidate) BaseScore() float64 {
	if c.OriginalScore != nil {
		return *c.OriginalScore
	}
	return c.Score
}

// KeepOriginalScore records the current score as the original one unless an
// original score is already present, and returns the base score.
func (c *Candidate) KeepOriginalScore() float64 {
	if c.OriginalScore == nil {
		s := c.Score
		c.OriginalScore = &s
	}
	return *c.OriginalScore
}

// Pattern returns the pattern served by the candidate's memory type.
func (c *Candidate) Pattern() Pattern {
	return PatternForType(c.MemoryType)
}

// OptimizationContext is the typed conversation context supplied with a query.
type OptimizationContext struct {
	// Version is the schema version of the context.
	Version int `json:"version"`

	// ConversationText is recent conversation text used for overlap matching.
	ConversationText string `json:"conversation_text,omitempty"`

	// RecentMessages are the last few user messages.
	RecentMessages []string `json:"recent_messages,omitempty"`

	// Topics are optional topic hints from the caller.
	Topics []string `json:"topics,omitempty"`

	// EmotionalState is an optional label from the emotion classifier.
	EmotionalState string `json:"emotional_state,omitempty"`
}

// CurrentContextVersion is the context schema version produced by this module.
const CurrentContextVersion = 1

// Text returns all free text of the context joined together.
func (c *OptimizationContext) Text() string {
	if c == nil {
		return ""
	}
	parts := make([]string, 0, len(c.RecentMessages)+len(c.Topics)+2)
	if c.ConversationText != "" {
		parts = append(parts, c.ConversationText)
	}
	parts = append(parts, c.RecentMessages...)
	parts = append(parts, c.Topics...)
	if c.EmotionalState != "" {
		parts = append(parts, c.EmotionalState)
	}
	return strings.Join(parts, " ")
}
