package llm

import (
	"unicode/utf8"

	"github.com/ahrav/go-qalab/internal/ports"
)

// CharsPerToken is the character-to-token ratio used when a provider does
// not report usage.
const CharsPerToken = 4

// EstimateTokens returns ceil(characters / CharsPerToken). Empty text is
// zero tokens.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// EstimateUsage fills in whatever the provider left at zero. Reported values
// are kept as-is; a missing total is the sum of input and output.
func EstimateUsage(reported ports.Usage, promptText, responseText string) ports.Usage {
	u := reported
	if u.PromptTokens <= 0 {
		u.PromptTokens = EstimateTokens(promptText)
	}
	if u.CompletionTokens <= 0 {
		u.CompletionTokens = EstimateTokens(responseText)
	}
	if u.TotalTokens <= 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// CharacterTokenEstimator is the default TokenEstimator.
type CharacterTokenEstimator struct{}

// EstimateTokens implements TokenEstimator.
func (CharacterTokenEstimator) EstimateTokens(text string) int { return EstimateTokens(text) }

// PromptText flattens a conversation into the text used for prompt-side
// estimation.
func PromptText(messages []ports.ChatMessage) string {
	size := 0
	for _, m := range messages {
		size += len(m.Content) + 1
	}
	buf := make([]byte, 0, size)
	for i, m := range messages {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, m.Content...)
	}
	return string(buf)
}
