package units

import (
	"fmt"
	"strings"
)

// continuationTemplates turn an existing fixture line into a follow-on
// clause about the same fact. %s receives the base line without its
// trailing punctuation.
var continuationTemplates = []string{
	"%s; confirm details when booking.",
	"Note: %s, as stated on the intake sheet.",
	"%s (repeated on the front desk notes).",
	"Per the owner: %s.",
	"%s, unless the schedule changes.",
}

// ExpandFixtureLinesToMinimum grows lines to exactly minLines entries by
// appending continuation clauses derived from the existing lines. Inputs
// already at or above minLines are returned unchanged, and empty input is
// returned empty since there is nothing to derive from.
//
// The base lines are deduplicated first. Derived lines cycle through every
// base line and template pair; when all pairs are used, a round marker is
// appended so later rounds stay distinct.
func ExpandFixtureLinesToMinimum(lines []string, minLines int) []string {
	if len(lines) >= minLines {
		return lines
	}
	base := dedupeFold(lines)
	if len(base) == 0 {
		return []string{}
	}

	out := make([]string, len(base), minLines)
	copy(out, base)
	seen := make(map[string]struct{}, minLines)
	for _, l := range base {
		seen[foldKey(l)] = struct{}{}
	}

	combos := len(base) * len(continuationTemplates)
	for i := 0; len(out) < minLines; i++ {
		line := strings.TrimRight(strings.TrimSpace(base[i%len(base)]), ".;:!? ")
		tmpl := continuationTemplates[(i/len(base))%len(continuationTemplates)]
		candidate := fmt.Sprintf(tmpl, line)
		if round := i / combos; round > 0 {
			candidate = fmt.Sprintf("%s (variant %d)", candidate, round+1)
		}
		k := foldKey(candidate)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, candidate)
	}
	return out
}
