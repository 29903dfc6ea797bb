package units

import (
	"fmt"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandFixtureLinesToMinimum(t *testing.T) {
	base := []string{
		"Open Monday to Friday 8am-6pm.",
		"Cleanings are $95.",
		"cleanings are $95.",
		"Whitening is $399 per session.",
	}

	tests := []struct {
		name  string
		lines []string
		min   int
		want  int
	}{
		{name: "already at minimum", lines: base, min: 4, want: 4},
		{name: "above minimum", lines: base, min: 2, want: 4},
		{name: "grows to minimum", lines: base, min: 12, want: 12},
		{name: "beyond all template combinations", lines: base[:1], min: 20, want: 20},
		{name: "empty input stays empty", lines: nil, min: 10, want: 0},
		{name: "blank lines only", lines: []string{" ", ""}, min: 5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandFixtureLinesToMinimum(tt.lines, tt.min)
			assert.Len(t, got, tt.want)
			if len(tt.lines) >= tt.min {
				assert.Equal(t, tt.lines, got, "inputs at or above the minimum are returned unchanged")
				return
			}
			assertNoFoldDuplicates(t, got)
		})
	}
}

func TestExpandFixtureLinesToMinimum_DerivesFromExistingLines(t *testing.T) {
	base := []string{"Cleanings are $95.", "Whitening is $399 per session."}
	got := ExpandFixtureLinesToMinimum(base, 6)

	require.Len(t, got, 6)
	assert.Equal(t, base, got[:2], "base lines come first, in order")
	for _, line := range got[2:] {
		assert.True(t,
			containsAny(line, "Cleanings are $95", "Whitening is $399 per session"),
			"derived line %q must extend an existing line", line)
	}
}

// Expansion always reaches the minimum with no duplicates for non-empty
// input, and never shrinks its input.
func TestExpandFixtureLinesToMinimum_Properties(t *testing.T) {
	prop := func(seed uint8, nBase uint8, minLines uint8) bool {
		n := int(nBase%10) + 1
		minimum := int(minLines % 80)
		lines := make([]string, n)
		for i := range lines {
			lines[i] = fmt.Sprintf("Fact %d about service %d.", int(seed)+i, i)
		}

		got := ExpandFixtureLinesToMinimum(lines, minimum)
		if n >= minimum {
			return len(got) == n
		}
		if len(got) != minimum {
			return false
		}
		seen := map[string]bool{}
		for _, l := range got {
			k := foldKey(l)
			if seen[k] {
				return false
			}
			seen[k] = true
		}
		return true
	}
	assert.NoError(t, quick.Check(prop, &quick.Config{MaxCount: 300}))
}

func assertNoFoldDuplicates(t *testing.T, lines []string) {
	t.Helper()
	seen := map[string]string{}
	for _, l := range lines {
		k := foldKey(l)
		if prev, dup := seen[k]; dup {
			t.Fatalf("duplicate lines %q and %q", prev, l)
		}
		seen[k] = l
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
