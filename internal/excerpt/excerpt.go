// Package excerpt picks the sentences of a complaint that best answer a
// query, and clips text to a character budget.
package excerpt

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"trustvoice/internal/tokenize"
)

var sentenceRe = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`)

// Split returns the trimmed, non-empty sentences of text in order. Text
// without terminal punctuation is a single sentence.
func Split(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Excerpt returns up to n sentences of text ranked by overlap with the
// query terms, weighted by how often each term recurs in text. Selected
// sentences keep their original order. Without any overlap the most
// representative sentences are chosen by term frequency alone.
func Excerpt(text, query string, n int) string {
	if n <= 0 {
		n = 2
	}
	sentences := Split(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	if len(sentences) <= n {
		return strings.Join(sentences, " ")
	}

	idx := Rank(sentences, query)[:n]
	sort.Ints(idx)
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = sentences[j]
	}
	return strings.Join(out, " ")
}

// Rank returns sentence indexes ordered from best to worst match for query.
func Rank(sentences []string, query string) []int {
	terms := make([][]string, len(sentences))
	freq := map[string]float64{}
	for i, s := range sentences {
		terms[i] = tokenize.Terms(s)
		for _, t := range terms[i] {
			freq[t]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	q := map[string]struct{}{}
	for _, t := range tokenize.Terms(query) {
		q[t] = struct{}{}
	}

	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, ts := range terms {
		overlap, weight := 0.0, 0.0
		seen := map[string]struct{}{}
		for _, t := range ts {
			weight += freq[t]
			if _, ok := q[t]; !ok {
				continue
			}
			if _, dup := seen[t]; !dup {
				seen[t] = struct{}{}
				overlap++
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(ts)); l > 0 {
			weight /= math.Sqrt(l)
		}
		scores[i] = pair{i, overlap + 0.1*weight}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	out := make([]int, len(scores))
	for i, p := range scores {
		out[i] = p.idx
	}
	return out
}

// Clip shortens text to at most maxChars characters, cutting after the last
// complete sentence that fits, or at a word boundary when no sentence does.
func Clip(text string, maxChars int) string {
	text = strings.TrimSpace(text)
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	var b strings.Builder
	for _, s := range Split(text) {
		next := s
		if b.Len() > 0 {
			next = " " + s
		}
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(next) > maxChars {
			break
		}
		b.WriteString(next)
	}
	if b.Len() > 0 {
		return b.String()
	}

	r := []rune(text)[:maxChars]
	cut := string(r)
	if i := strings.LastIndexAny(cut, " \t\n"); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
