// Package textutil provides the shared deterministic text primitives used by
// the scorer, intent classifier, synthesizer and semantic cache: tokenization,
// stopword filtering, sentence splitting and set similarity.
package textutil

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"then": {}, "else": {}, "when": {}, "at": {}, "by": {}, "for": {},
	"with": {}, "about": {}, "against": {}, "between": {}, "into": {},
	"through": {}, "during": {}, "before": {}, "after": {}, "above": {},
	"below": {}, "to": {}, "from": {}, "up": {}, "down": {}, "in": {},
	"out": {}, "on": {}, "off": {}, "over": {}, "under": {}, "again": {},
	"further": {}, "once": {}, "here": {}, "there": {}, "all": {}, "any": {},
	"both": {}, "each": {}, "few": {}, "more": {}, "most": {}, "other": {},
	"some": {}, "such": {}, "no": {}, "nor": {}, "not": {}, "only": {},
	"own": {}, "same": {}, "so": {}, "than": {}, "too": {}, "very": {},
	"can": {}, "will": {}, "just": {}, "should": {}, "now": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"of": {}, "it": {}, "its": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "i": {}, "you": {}, "he": {}, "she": {}, "we": {},
	"they": {}, "what": {}, "which": {}, "who": {}, "whom": {}, "how": {},
	"as": {}, "their": {}, "them": {}, "your": {}, "my": {}, "me": {},
	"him": {}, "her": {}, "his": {}, "would": {}, "could": {}, "also": {},
}

// Tokenize lowercases the text and splits it into alphanumeric word tokens.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentWords returns tokens with stopwords removed.
func ContentWords(text string) []string {
	tokens := Tokenize(text)
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if len(tok) < 2 {
			continue
		}
		words = append(words, tok)
	}
	return words
}

// IsStopword reports whether the lowercase token is a stopword.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// WordSet converts tokens into a set.
func WordSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard computes |A∩B| / |A∪B| over two token sets. Two empty sets have
// similarity 1; one empty set gives 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// JaccardText is Jaccard over the content-word sets of two strings.
func JaccardText(a, b string) float64 {
	return Jaccard(WordSet(ContentWords(a)), WordSet(ContentWords(b)))
}

// SplitSentences splits text on terminal punctuation, dropping empties.
func SplitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	sentences := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// SplitParagraphs splits text on blank lines, dropping empties.
func SplitParagraphs(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(normalized, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// NormalizePrompt canonicalizes a prompt for fingerprinting: lowercase,
// collapsed whitespace, trimmed.
func NormalizePrompt(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// EstimateTokens approximates a model tokenizer: roughly 4 characters per
// token for English text, never below the word count.
func EstimateTokens(text string) int {
	byChars := len(text) / 4
	words := WordCount(text)
	if byChars < words {
		return words
	}
	if byChars == 0 && len(text) > 0 {
		return 1
	}
	return byChars
}
