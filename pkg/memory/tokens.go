package memory

import (
	"strings"
	"unicode"
)

var stopWords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "shall", "can", "to", "of", "in", "for",
		"on", "with", "at", "by", "from", "as", "into", "about", "then",
		"and", "but", "or", "not", "so", "if", "when", "where", "how", "what",
		"which", "who", "this", "that", "these", "those", "i", "me", "my",
		"we", "our", "you", "your", "he", "him", "his", "she", "her", "it",
		"its", "they", "them", "their", "just", "very", "too", "also",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize splits text into lowercase tokens, dropping punctuation and stop words.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	tokens := make([]string, 0, len(text)/4)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		if _, isStop := stopWords[token]; !isStop {
			tokens = append(tokens, token)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// OverlapRatio returns the fraction of distinct content tokens that also
// appear in the context. The result is in [0, 1]; empty content yields 0.
func OverlapRatio(content, context string) float64 {
	contentTokens := TokenSet(content)
	if len(contentTokens) == 0 {
		return 0
	}
	contextTokens := TokenSet(context)
	if len(contextTokens) == 0 {
		return 0
	}
	shared := 0
	for t := range contentTokens {
		if _, ok := contextTokens[t]; ok {
			shared++
		}
	}
	return Clamp01(float64(shared) / float64(len(contentTokens)))
}
