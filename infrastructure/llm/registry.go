package llm

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/go-qalab/internal/ports"
)

// Registry resolves model specs to clients and caches one client per
// provider/model pair. Clients are created lazily from the provider's API
// key environment variable and share the registry's default middleware, so
// a rate limiter in that middleware paces every model of every provider.
//
// Spec formats:
//   - "provider/model": the named provider and model
//   - "provider": the provider's default model
//   - "model": the default provider with that model
type Registry struct {
	providers         map[string]ProviderConfig
	clients           map[string]ports.LLMClient
	defaultProvider   string
	defaultMiddleware []Middleware
	defaultTimeout    time.Duration
	lookupEnv         func(string) string
	mu                sync.RWMutex
}

var _ ports.ClientResolver = (*Registry)(nil)

type ProviderConfig struct {
	// Type is the factory name passed to NewClient.
	Type string
	// EnvVar holds the API key.
	EnvVar       string
	DefaultModel string
	// SupportedModels restricts the accepted models. Empty accepts any.
	SupportedModels []string
	BaseURL         string
	// Middleware runs inside the registry defaults, closest to the
	// provider.
	Middleware []Middleware
}

type RegistryConfig struct {
	Providers map[string]ProviderConfig
	// DefaultProvider serves specs without a provider prefix.
	DefaultProvider   string
	DefaultTimeout    time.Duration
	DefaultMiddleware []Middleware
	// LookupEnv reads API keys. Defaults to os.Getenv.
	LookupEnv func(string) string
}

// DefaultProviders are the built-in providers keyed by spec prefix.
var DefaultProviders = map[string]ProviderConfig{
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
	},
}

func NewRegistry(config RegistryConfig) (*Registry, error) {
	if _, ok := config.Providers[config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("default provider %q is not configured", config.DefaultProvider)
	}
	lookup := config.LookupEnv
	if lookup == nil {
		lookup = os.Getenv
	}

	return &Registry{
		providers:         config.Providers,
		clients:           make(map[string]ports.LLMClient),
		defaultProvider:   config.DefaultProvider,
		defaultMiddleware: config.DefaultMiddleware,
		defaultTimeout:    config.DefaultTimeout,
		lookupEnv:         lookup,
	}, nil
}

// Resolve implements ports.ClientResolver.
func (r *Registry) Resolve(spec string) (ports.LLMClient, error) {
	return r.GetClient(spec)
}

// GetClient returns the cached client for spec, creating it on first use.
func (r *Registry) GetClient(spec string) (ports.LLMClient, error) {
	provider, model, err := r.ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	key := provider + "/" + model

	r.mu.RLock()
	client, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}
	client, err = r.build(provider, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}

// RegisterClient installs a prebuilt client under "provider/model". Tests
// and embedders use it to route a spec to a client the registry did not
// build.
func (r *Registry) RegisterClient(spec string, client ports.LLMClient) error {
	provider, model, err := r.ParseSpec(spec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider+"/"+model] = client
	return nil
}

// ParseSpec splits a model spec into provider and model.
func (r *Registry) ParseSpec(spec string) (provider, model string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidModelSpec)
	}

	if p, m, found := strings.Cut(spec, "/"); found {
		if p == "" || m == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidModelSpec, spec)
		}
		if _, ok := r.providers[p]; !ok {
			return "", "", fmt.Errorf("%w: unknown provider %q", ports.ErrUnknownModel, p)
		}
		return p, m, nil
	}

	if cfg, ok := r.providers[spec]; ok {
		return spec, cfg.DefaultModel, nil
	}
	return r.defaultProvider, spec, nil
}

func (r *Registry) build(provider, model string) (ports.LLMClient, error) {
	pc := r.providers[provider]
	if len(pc.SupportedModels) > 0 && !slices.Contains(pc.SupportedModels, model) {
		return nil, fmt.Errorf("%w: model %q is not supported by provider %q", ErrInvalidModel, model, provider)
	}
	key := r.lookupEnv(pc.EnvVar)
	if key == "" {
		return nil, fmt.Errorf("%s environment variable not set for provider %q", pc.EnvVar, provider)
	}
	return NewClient(pc.Type, ClientConfig{
		APIKey:     key,
		Model:      model,
		BaseURL:    pc.BaseURL,
		Timeout:    r.defaultTimeout,
		Middleware: slices.Concat(r.defaultMiddleware, pc.Middleware),
	})
}

// RegisteredSpecs returns the provider/model keys of the cached clients in
// sorted order.
func (r *Registry) RegisteredSpecs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.clients))
}
