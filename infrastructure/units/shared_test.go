package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "markdown json code block",
			input:    "Here you go:\n```json\n{\"summary\": \"ok\"}\n```\nDone.",
			expected: `{"summary": "ok"}`,
		},
		{
			name:     "generic code block with language tag",
			input:    "```javascript\n{\"summary\": \"js\"}\n```",
			expected: `{"summary": "js"}`,
		},
		{
			name:     "nested objects",
			input:    `{"kb_fixture": {"title": "t", "lines": ["a"]}, "scenarios": []}`,
			expected: `{"kb_fixture": {"title": "t", "lines": ["a"]}, "scenarios": []}`,
		},
		{
			name:     "braces and escaped quotes inside strings",
			input:    `prefix {"rule": "uses {braces} and \"quotes\" }"} suffix`,
			expected: `{"rule": "uses {braces} and \"quotes\" }"}`,
		},
		{
			name:     "first of several objects",
			input:    `{"a": 1} {"b": 2}`,
			expected: `{"a": 1}`,
		},
		{
			name:     "no JSON",
			input:    "I cannot help with that.",
			expected: "",
		},
		{
			name:     "unterminated object",
			input:    `{"summary": "cut off`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractJSON(tt.input))
		})
	}
}

func TestParseObject(t *testing.T) {
	_, err := parseObject("nothing here")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = parseObject(`{"a": 1,}`)
	assert.ErrorIs(t, err, ErrMalformedJSON)

	root, err := parseObject("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	assert.Equal(t, int64(1), root.Get("a").Int())
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo wörld", 5))
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "abc", truncateRunes("abc", 10))

	assert.Equal(t, "a b c", cleanText("  a \n\t b   c ", 100))
	assert.Equal(t, "a b", cleanText("a b c", 3))

	assert.Equal(t, []string{"Cleaning", "Whitening"}, dedupeFold([]string{"Cleaning", " ", "CLEANING", "Whitening", "cleaning"}))

	assert.Equal(t, "book a cleaning", lowerFirst("Book a cleaning"))
	assert.Equal(t, "HVAC tune-up", lowerFirst("HVAC tune-up"))
	assert.Equal(t, "", lowerFirst(""))
}

func TestSeedIndex(t *testing.T) {
	tests := []struct {
		seed    string
		modulus int
		want    int
	}{
		{"", 12, 0},
		{"a", 12, 97 % 12},
		{"ab", 100, (97*31 + 98) % 100},
		{"anything", 0, 0},
		{"anything", -3, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeedIndex(tt.seed, tt.modulus), "SeedIndex(%q, %d)", tt.seed, tt.modulus)
	}

	long := "9b2f6c1e-3d4a-4c7e-8f00-1a2b3c4d5e6f"
	for range 3 {
		got := SeedIndex(long, len(Sectors))
		assert.GreaterOrEqual(t, got, 0)
		assert.Less(t, got, len(Sectors))
	}
}

func TestBusinessHintFor(t *testing.T) {
	a := BusinessHintFor("run-123")
	b := BusinessHintFor("run-123")
	assert.Equal(t, a, b, "same run id yields the same business")

	sector := Sectors[SeedIndex("run-123", len(Sectors))]
	assert.Equal(t, sector.Key, a.Sector)
	assert.Equal(t, sector.Label, a.SectorLabel)
	assert.Contains(t, a.Name, sector.NameSuffix)
	assert.Equal(t, namePrefixes[SeedIndex("run-123:name", len(namePrefixes))]+" "+sector.NameSuffix, a.Name)
}

func TestTemplateFuncMap(t *testing.T) {
	fm := GetTemplateFuncMap()

	bullets := fm["bullets"].(func([]string) string)
	assert.Equal(t, "- (none)", bullets(nil))
	assert.Equal(t, "- a\n- b", bullets([]string{"a", "b"}))

	indent := fm["indent"].(func(string, int) string)
	assert.Equal(t, "  a\n  b", indent("a\nb", 2))

	join := fm["join"].(func([]string, string) string)
	assert.Equal(t, "a, b", join([]string{"a", "b"}, ", "))

	add := fm["add"].(func(int, int) int)
	assert.Equal(t, 3, add(1, 2))
}
