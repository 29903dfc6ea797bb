package units

import (
	"strings"
	"text/template"
)

// GetTemplateFuncMap returns the function map shared by every prompt
// template in this package.
//
// Usage:
//
//	tmpl, err := template.New("prompt").Funcs(GetTemplateFuncMap()).Parse(text)
func GetTemplateFuncMap() template.FuncMap {
	return template.FuncMap{
		// add performs integer addition.
		// Template usage: {{add $index 1}}
		"add": func(a, b int) int {
			return a + b
		},

		// truncate limits s to length runes.
		// Template usage: {{truncate $line 200}}
		"truncate": truncateRunes,

		// join concatenates elements with sep between them.
		// Template usage: {{join .Services ", "}}
		"join": func(elems []string, sep string) string {
			return strings.Join(elems, sep)
		},

		// bullets renders one "- item" line per element, or "- (none)" for
		// an empty list.
		// Template usage: {{bullets .GroundTruth.CriticalPolicyFacts}}
		"bullets": func(elems []string) string {
			if len(elems) == 0 {
				return "- (none)"
			}
			var b strings.Builder
			for i, e := range elems {
				if i > 0 {
					b.WriteByte('\n')
				}
				b.WriteString("- ")
				b.WriteString(e)
			}
			return b.String()
		},

		// indent prefixes every line of s with n spaces.
		// Template usage: {{indent .Response 4}}
		"indent": func(s string, n int) string {
			pad := strings.Repeat(" ", n)
			return pad + strings.ReplaceAll(s, "\n", "\n"+pad)
		},
	}
}
