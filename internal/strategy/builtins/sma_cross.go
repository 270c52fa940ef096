// Package builtins provides built-in strategy implementations that ship with
// evalgate.
package builtins

import (
	"context"
	_ "embed"
	"fmt"

	"evalgate/internal/domain"
	"evalgate/internal/strategy"
)

//go:embed sma_cross.go
var smaCrossSource string

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It generates
// a buy signal when the short-period SMA crosses above the long-period SMA,
// and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("sma-cross: need 0 < short < long, got %d/%d", short, long)
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}, nil
}

func newSMACrossFromSpec(spec strategy.StrategySpec) (strategy.Strategy, error) {
	return NewSMACross(int(spec.Param("short", 10)), int(spec.Param("long", 30)))
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init is a no-op; the strategy is computed from the view alone.
func (s *SMACross) Init(_ context.Context) error {
	return nil
}

// OnBar compares the SMAs at the current and the previous bar and signals
// on a crossover. Strength is the relative spread of the two averages.
func (s *SMACross) OnBar(_ context.Context, view strategy.View) (domain.Signal, error) {
	closes := view.Closes()
	if len(closes) < s.longPeriod+1 {
		return domain.Flat(), nil
	}

	prev := closes[:len(closes)-1]
	shortNow, longNow := sma(closes, s.shortPeriod), sma(closes, s.longPeriod)
	shortPrev, longPrev := sma(prev, s.shortPeriod), sma(prev, s.longPeriod)

	sig := domain.Signal{
		Symbol:   view.Last().Symbol,
		Type:     domain.SignalTypeFlat,
		Strength: (shortNow - longNow) / longNow,
	}
	switch {
	case shortPrev <= longPrev && shortNow > longNow:
		sig.Type = domain.SignalTypeBuy
	case shortPrev >= longPrev && shortNow < longNow:
		sig.Type = domain.SignalTypeSell
	}
	return sig, nil
}

// Source returns the strategy's own source text.
func (s *SMACross) Source() string { return smaCrossSource }

// sma averages the last n values.
func sma(values []float64, n int) float64 {
	var sum float64
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}
