// Package compaction holds the pluggable strategies that rewrite a
// thread's event prefix under token pressure. A strategy is pure at its
// boundary: it returns a candidate COMPACTION payload, never deletes
// anything. The thread store is the only component that appends it.
package compaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/obra/lace-sub014/pkg/types"
)

// Strategy produces a CompactionPayload candidate from a raw event list.
type Strategy interface {
	ID() string
	Compact(ctx context.Context, events []types.Event, params map[string]any) (types.CompactionPayload, error)
}

// Registry is a strategy lookup keyed by identifier.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry returns an empty registry. Use Default for one pre-loaded
// with the two built-in strategies.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
}

// Get looks up a strategy by id.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("compaction: unknown strategy %q", id)
	}
	return s, nil
}

// Compact runs the named strategy and returns its candidate payload.
func (r *Registry) Compact(ctx context.Context, strategyID string, events []types.Event, params map[string]any) (types.CompactionPayload, error) {
	s, err := r.Get(strategyID)
	if err != nil {
		return types.CompactionPayload{}, err
	}
	return s.Compact(ctx, events, params)
}

// Summarizer produces a short prose summary of a run of events, backed
// by a provider adapter. It is the seam between this package and
// internal/provider, kept as a function type so compaction tests don't
// need a live provider.
type Summarizer func(ctx context.Context, events []types.Event) (string, error)

// Default returns a registry with trim-tool-results and summarize
// registered, the latter backed by summarizer.
func Default(summarizer Summarizer) *Registry {
	r := NewRegistry()
	r.Register(&TrimToolResults{})
	r.Register(&Summarize{summarizer: summarizer})
	return r
}
