package llm

import (
	"strings"
	"sync"

	"github.com/ahrav/go-qalab/internal/ports"
)

// BaseProvider holds the model name shared by the provider adapters.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// SplitSystem separates system messages from the conversation. Multiple
// system messages are joined with a blank line. Providers with a dedicated
// system parameter use it; the rest of the messages keep their order.
func SplitSystem(messages []ports.ChatMessage) (string, []ports.ChatMessage) {
	var system []string
	rest := make([]ports.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == ports.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// supportsJSONMode reports whether an OpenAI-compatible model accepts
// response_format json_object.
func supportsJSONMode(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "gpt") || strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

// cmp returns v, or fallback when v is empty.
func cmp(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
