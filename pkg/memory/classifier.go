package memory

import "strings"

// Classifier maps free text (a query or conversation context) onto the
// memory patterns it asks for.
type Classifier interface {
	Classify(text string) []Pattern
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(text string) []Pattern

// Classify calls f(text).
func (f ClassifierFunc) Classify(text string) []Pattern {
	return f(text)
}

// KeywordClassifier matches lowercase keyword substrings per pattern.
type KeywordClassifier struct {
	keywords map[Pattern][]string
}

// DefaultKeywords returns the built-in keyword table.
func DefaultKeywords() map[Pattern][]string {
	return map[Pattern][]string{
		PatternFactualRecall:       {"what is", "when did", "remember", "fact", "told you", "name of", "how many"},
		PatternEmotionalContext:    {"feel", "feeling", "sad", "happy", "upset", "angry", "worried", "anxious", "excited", "lonely"},
		PatternConversationHistory: {"last time", "earlier", "before", "we talked", "you said", "previously", "yesterday"},
		PatternPreferenceMemory:    {"like", "love", "prefer", "favorite", "favourite", "hate", "enjoy", "dislike"},
		PatternRelationshipContext: {"friend", "family", "mom", "dad", "partner", "relationship", "brother", "sister", "together"},
		PatternTechnicalKnowledge:  {"how to", "code", "error", "install", "configure", "algorithm", "debug", "technical"},
		PatternCreativeInspiration: {"idea", "imagine", "story", "create", "write", "design", "inspire", "brainstorm"},
	}
}

// NewKeywordClassifier creates a classifier from a keyword table.
// A nil table selects DefaultKeywords.
func NewKeywordClassifier(keywords map[Pattern][]string) *KeywordClassifier {
	if keywords == nil {
		keywords = DefaultKeywords()
	}
	return &KeywordClassifier{keywords: keywords}
}

// Classify returns the matched patterns in AllPatterns order.
func (k *KeywordClassifier) Classify(text string) []Pattern {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var matched []Pattern
	for _, p := range AllPatterns() {
		for _, kw := range k.keywords[p] {
			if strings.Contains(text, kw) {
				matched = append(matched, p)
				break
			}
		}
	}
	return matched
}
