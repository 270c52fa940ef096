// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry of factories that build them from a StrategySpec.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"evalgate/internal/domain"
)

// ErrUnknownLogic is returned by Build when no factory is registered for a
// spec's Logic.
var ErrUnknownLogic = errors.New("unknown strategy logic")

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup required before the strategy begins
	// processing a slice of market data. It is called once per slice.
	Init(ctx context.Context) error

	// OnBar is called once per bar with a view that ends at that bar. It
	// returns the strategy's decision for the bar.
	OnBar(ctx context.Context, view View) (domain.Signal, error)
}

// SourceProvider is implemented by strategies that can expose their own
// source text for static inspection.
type SourceProvider interface {
	Source() string
}

// Factory builds a Strategy from a spec's parameters.
type Factory func(spec StrategySpec) (Strategy, error)

// Registry holds named strategy factories for lookup and enumeration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the strategy named by spec.Logic.
func (r *Registry) Build(spec StrategySpec) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Logic]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLogic, spec.Logic)
	}
	s, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", spec.Logic, err)
	}
	return s, nil
}

// Has reports whether a factory is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns a sorted slice of all registered logic names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Candidate
// ---------------------------------------------------------------------------

// Candidate pairs a spec with the strategy built from it.
type Candidate struct {
	Spec     StrategySpec
	Strategy Strategy
}

// NewCandidate builds the spec's strategy through the registry.
func NewCandidate(r *Registry, spec StrategySpec) (Candidate, error) {
	if err := spec.Validate(); err != nil {
		return Candidate{}, err
	}
	s, err := r.Build(spec)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{Spec: spec, Strategy: s}, nil
}

// Source returns the text the static auditor should inspect: the spec's own
// source when it carries one, otherwise the strategy's embedded source.
func (c Candidate) Source() string {
	if c.Spec.Source != "" {
		return c.Spec.Source
	}
	if sp, ok := c.Strategy.(SourceProvider); ok {
		return sp.Source()
	}
	return ""
}
