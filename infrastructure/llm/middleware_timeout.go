package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// TimeoutMiddleware gives every request its own deadline. A caller deadline
// that is already sooner wins. A non-positive timeout leaves the client
// unwrapped.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		if timeout <= 0 {
			return next
		}
		return &deadlineLLM{CoreLLM: next, timeout: timeout}
	}
}

type deadlineLLM struct {
	CoreLLM
	timeout time.Duration
}

func (d *deadlineLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.CoreLLM.DoRequest(ctx, messages, opts)
}
