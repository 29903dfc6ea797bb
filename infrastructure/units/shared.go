// Package units provides the three stages of a QA Lab run: the generator,
// the scenario executor and the judge. Each implements ports.Unit and reads
// and writes its inputs and outputs through domain.State.
package units

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
)

// Unit names used for logging, metrics and budget attribution.
const (
	GeneratorUnitName = "generator"
	ExecutorUnitName  = "executor"
	JudgeUnitName     = "judge"
)

// Common errors returned by unit constructors.
var (
	// ErrEmptyUnitName is returned when attempting to create a unit with an empty name.
	ErrEmptyUnitName = errors.New("unit name cannot be empty")

	// ErrNilClient is returned when a unit that calls a model has no client.
	ErrNilClient = errors.New("LLM client cannot be nil")

	// ErrNilTracker is returned when a unit has no token ledger.
	ErrNilTracker = errors.New("token tracker cannot be nil")

	// ErrNoJSON is returned when a model response contains no JSON object.
	ErrNoJSON = errors.New("no JSON object found in response")

	// ErrMalformedJSON is returned when the extracted text is not a valid
	// JSON object.
	ErrMalformedJSON = errors.New("response is not a valid JSON object")
)

// parseObject extracts and validates the JSON object in a model response.
func parseObject(raw string) (gjson.Result, error) {
	js := extractJSON(raw)
	if js == "" {
		return gjson.Result{}, ErrNoJSON
	}
	if !gjson.Valid(js) {
		return gjson.Result{}, ErrMalformedJSON
	}
	root := gjson.Parse(js)
	if !root.IsObject() {
		return gjson.Result{}, ErrMalformedJSON
	}
	return root, nil
}

// firstOf returns the first of paths that exists under r.
func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// stringList reads a list of strings from r. A bare string is split on
// newlines, and objects contribute their first text-like field. Entries are
// cleaned, emptied ones dropped, duplicates removed case-insensitively, and
// the result capped at maxItems.
func stringList(r gjson.Result, maxItems, maxRunes int) []string {
	var items []string
	switch {
	case r.IsArray():
		for _, v := range r.Array() {
			items = append(items, textOf(v))
		}
	case r.Type == gjson.String:
		items = strings.Split(r.String(), "\n")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := cleanText(strings.TrimLeft(item, "-*• \t"), maxRunes); s != "" {
			out = append(out, s)
		}
	}
	out = dedupeFold(out)
	if len(out) > maxItems {
		out = out[:maxItems]
	}
	return out
}

// textOf returns the text of a scalar, or of the first text-like field of an
// object.
func textOf(v gjson.Result) string {
	if v.IsObject() {
		return firstOf(v, "message", "content", "text", "name", "value").String()
	}
	if v.Type == gjson.String || v.Type == gjson.Number {
		return v.String()
	}
	return ""
}

// Package-level validator instance for configuration validation.
var validate = validator.New()

// foldString applies Unicode case folding. A Caser is stateful, so each
// call gets its own.
func foldString(s string) string { return cases.Fold().String(s) }

// extractJSON returns the first JSON object in a model response. It accepts
// bare JSON, JSON inside a markdown code block, and JSON surrounded by prose.
// It returns "" when no balanced object is found.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if nl := strings.Index(response[start:], "\n"); nl != -1 {
			start += nl + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

// truncateRunes shortens s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

// cleanText trims s, collapses internal whitespace runs to single spaces and
// truncates to maxRunes.
func cleanText(s string, maxRunes int) string {
	return truncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}

// foldKey is the case-insensitive identity used when deduplicating text.
func foldKey(s string) string {
	return foldString(strings.Join(strings.Fields(s), " "))
}

// dedupeFold drops empty entries and case-insensitive duplicates, keeping
// the first occurrence and the input order.
func dedupeFold(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		k := foldKey(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}

// lowerFirst lowercases the first rune unless the first word looks like an
// acronym or proper noun run (two leading capitals).
func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	if len(r) > 1 && unicode.IsUpper(r[1]) {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
