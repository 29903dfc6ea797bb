package testutils

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ahrav/go-qalab/internal/ports"
)

var _ ports.ClientResolver = (*StaticResolver)(nil)

// StaticResolver resolves model specs from a fixed map.
type StaticResolver struct {
	mu       sync.RWMutex
	clients  map[string]ports.LLMClient
	fallback ports.LLMClient
}

// NewStaticResolver creates a resolver over clients. fallback, when not
// nil, is returned for unknown specs.
func NewStaticResolver(clients map[string]ports.LLMClient, fallback ports.LLMClient) *StaticResolver {
	c := make(map[string]ports.LLMClient, len(clients))
	for k, v := range clients {
		c[k] = v
	}
	return &StaticResolver{clients: c, fallback: fallback}
}

// Resolve implements ports.ClientResolver.
func (r *StaticResolver) Resolve(spec string) (ports.LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[spec]; ok {
		return c, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ports.ErrUnknownModel, spec)
}

// Set registers or replaces the client for spec.
func (r *StaticResolver) Set(spec string, client ports.LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[spec] = client
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
