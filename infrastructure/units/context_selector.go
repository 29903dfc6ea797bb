package units

import (
	"sort"
	"unicode/utf8"
)

// Context selection defaults.
const (
	DefaultContextLines  = 6
	FallbackContextLines = 3
	minTokenRunes        = 3
)

// ContextSelection is the fixture context chosen for one customer message.
type ContextSelection struct {
	// Indices are zero-based fixture line positions, in rank order.
	Indices []int
	Lines   []string
	// NoRelevantContext is set when nothing overlapped the message and the
	// first fixture lines were supplied instead.
	NoRelevantContext bool
}

// ContextSelector ranks fixture lines by token overlap with a message.
// Lines are tokenized once at construction. It is safe for concurrent use.
type ContextSelector struct {
	lines  []string
	tokens []map[string]struct{}
}

// NewContextSelector tokenizes lines for later selection.
func NewContextSelector(lines []string) *ContextSelector {
	s := &ContextSelector{
		lines:  append([]string(nil), lines...),
		tokens: make([]map[string]struct{}, len(lines)),
	}
	for i, line := range lines {
		s.tokens[i] = tokenSet(line)
	}
	return s
}

// tokenSet returns the distinct content tokens of text: lowercase words of
// at least three runes that are not stopwords.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range words(text) {
		if utf8.RuneCountInString(w) < minTokenRunes {
			continue
		}
		if _, stop := allStopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Select returns up to k lines sharing the most distinct tokens with
// message. Ties go to the earlier line. When no line shares a token, the
// first FallbackContextLines lines are returned and flagged.
func (s *ContextSelector) Select(message string, k int) ContextSelection {
	if k <= 0 {
		k = DefaultContextLines
	}
	query := tokenSet(message)

	type scored struct{ index, score int }
	ranked := make([]scored, 0, len(s.lines))
	for i, lineTokens := range s.tokens {
		score := 0
		for tok := range query {
			if _, ok := lineTokens[tok]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{i, score})
		}
	}

	if len(ranked) == 0 {
		n := min(FallbackContextLines, len(s.lines))
		sel := ContextSelection{
			Indices:           make([]int, n),
			Lines:             make([]string, n),
			NoRelevantContext: true,
		}
		for i := range n {
			sel.Indices[i] = i
			sel.Lines[i] = s.lines[i]
		}
		return sel
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].index < ranked[b].index
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	sel := ContextSelection{
		Indices: make([]int, len(ranked)),
		Lines:   make([]string, len(ranked)),
	}
	for i, r := range ranked {
		sel.Indices[i] = r.index
		sel.Lines[i] = s.lines[r.index]
	}
	return sel
}
