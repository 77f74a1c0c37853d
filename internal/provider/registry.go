package provider

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// modelSpec is one catalog entry: a model id and its token budgets.
type modelSpec struct {
	id                  string
	contextWindow       int
	maxCompletionTokens int
}

// Registry holds the configured adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter, replacing any previous one with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provider: adapter not found: %s", name)
	}
	return a, nil
}

// List returns all registered adapters.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// ParseModelSpec parses "provider/model". A bare name with no slash is
// a provider using its default model.
func ParseModelSpec(s string) (providerName, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return s, ""
}

// InitializeFromEnv registers an adapter for every upstream whose
// credentials are present in the environment. A missing key just skips
// that adapter; an error constructing one is logged and skipped so a
// single misconfigured upstream never takes the process down.
func InitializeFromEnv(ctx context.Context) *Registry {
	registry := NewRegistry()

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		a, err := NewAnthropicAdapter(ctx, &AnthropicConfig{})
		if err != nil {
			log.Warn().Err(err).Msg("provider: anthropic adapter unavailable")
		} else {
			registry.Register(a)
		}
	}

	if os.Getenv("OPENAI_API_KEY") != "" {
		a, err := NewOpenAIAdapter(ctx, &OpenAIConfig{})
		if err != nil {
			log.Warn().Err(err).Msg("provider: openai adapter unavailable")
		} else {
			registry.Register(a)
		}
	}

	if os.Getenv("ARK_API_KEY") != "" {
		a, err := NewArkAdapter(ctx, &ArkConfig{})
		if err != nil {
			log.Warn().Err(err).Msg("provider: ark adapter unavailable")
		} else {
			registry.Register(a)
		}
	}

	return registry
}
