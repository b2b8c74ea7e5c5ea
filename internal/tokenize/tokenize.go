// Package tokenize splits complaint text into lower-cased terms shared by
// the hashing embedder and the excerpt ranker.
package tokenize

import (
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"i", "me", "my", "we", "our", "you", "your", "he", "she", "they", "them", "their", "his", "her", "its",
		"have", "has", "had", "do", "does", "did", "not", "no", "there", "what", "which", "who", "when", "how", "why",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// IsStopword reports whether term carries no topical signal.
func IsStopword(term string) bool {
	_, ok := stopwords[term]
	return ok
}

// Words returns every lower-cased word of text, stopwords included.
func Words(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Terms returns the stemmed, stopword-free terms of text in order.
func Terms(text string) []string {
	raw := Words(text)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if IsStopword(t) {
			continue
		}
		out = append(out, Stem(t))
	}
	return out
}

// Stem strips common English inflections so that "charged", "charges" and
// "charging" share a term. It is intentionally crude.
func Stem(term string) string {
	t := strings.TrimSuffix(strings.TrimSuffix(term, "'s"), "’s")
	if len(t) <= 3 {
		return t
	}
	switch {
	case strings.HasSuffix(t, "ies") && len(t) > 4:
		t = t[:len(t)-3] + "y"
	case strings.HasSuffix(t, "ing") && len(t) > 5:
		t = t[:len(t)-3]
	case strings.HasSuffix(t, "ed") && len(t) > 4:
		t = t[:len(t)-2]
	case strings.HasSuffix(t, "es") && len(t) > 4:
		t = t[:len(t)-2]
	case strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss"):
		t = t[:len(t)-1]
	}
	if len(t) > 3 && strings.HasSuffix(t, "e") {
		t = t[:len(t)-1]
	}
	return t
}
