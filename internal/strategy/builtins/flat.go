package builtins

import (
	"context"
	_ "embed"

	"evalgate/internal/domain"
	"evalgate/internal/strategy"
)

//go:embed flat.go
var flatSource string

var _ strategy.Strategy = (*Flat)(nil)

// Flat never trades. It is the baseline candidate: zero trades, zero
// drawdown, and a clean audit.
type Flat struct{}

// Name returns "flat".
func (Flat) Name() string { return "flat" }

// Init is a no-op.
func (Flat) Init(_ context.Context) error { return nil }

// OnBar always returns a flat signal.
func (Flat) OnBar(_ context.Context, _ strategy.View) (domain.Signal, error) {
	return domain.Flat(), nil
}

// Source returns the strategy's own source text.
func (Flat) Source() string { return flatSource }
