package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-qalab/internal/ports"
)

// RateLimitMiddleware paces requests through one token bucket of limit
// requests per second and the given burst. The bucket is created once, so
// every client built from the returned Middleware shares it.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	bucket := rate.NewLimiter(limit, burst)
	return func(next CoreLLM) CoreLLM {
		return &pacedLLM{CoreLLM: next, bucket: bucket}
	}
}

type pacedLLM struct {
	CoreLLM
	bucket *rate.Limiter
}

// DoRequest blocks until the bucket grants a token or ctx ends.
func (p *pacedLLM) DoRequest(ctx context.Context, messages []ports.ChatMessage, opts map[string]any) (ports.Completion, error) {
	if err := p.bucket.Wait(ctx); err != nil {
		return ports.Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.CoreLLM.DoRequest(ctx, messages, opts)
}
