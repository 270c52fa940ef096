package builtins

import (
	"context"
	_ "embed"
	"fmt"

	"evalgate/internal/domain"
	"evalgate/internal/strategy"
)

//go:embed breakout.go
var breakoutSource string

var _ strategy.Strategy = (*Breakout)(nil)

// Breakout buys when the close clears the highest high of the previous
// lookback bars and sells when it falls below the lowest low.
type Breakout struct {
	lookback int
}

// NewBreakout creates a channel breakout strategy.
func NewBreakout(lookback int) (*Breakout, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("breakout: lookback must be at least 2, got %d", lookback)
	}
	return &Breakout{lookback: lookback}, nil
}

func newBreakoutFromSpec(spec strategy.StrategySpec) (strategy.Strategy, error) {
	return NewBreakout(int(spec.Param("lookback", 20)))
}

// Name returns "breakout".
func (b *Breakout) Name() string { return "breakout" }

// Init is a no-op; the channel is rebuilt from the view on every bar.
func (b *Breakout) Init(_ context.Context) error { return nil }

// OnBar signals when the current close leaves the channel of the previous
// lookback bars. Strength is the relative distance past the channel edge.
func (b *Breakout) OnBar(_ context.Context, view strategy.View) (domain.Signal, error) {
	n := view.Len()
	if n < b.lookback+1 {
		return domain.Flat(), nil
	}
	last := view.Last()
	highs, lows := view.Highs(), view.Lows()

	// Channel over the bars before the current one.
	upper, lower := highs[n-1-b.lookback], lows[n-1-b.lookback]
	for k := n - b.lookback; k < n-1; k++ {
		upper = max(upper, highs[k])
		lower = min(lower, lows[k])
	}

	sig := domain.Signal{Symbol: last.Symbol, Type: domain.SignalTypeFlat}
	switch {
	case last.Close > upper:
		sig.Type = domain.SignalTypeBuy
		sig.Strength = (last.Close - upper) / upper
	case last.Close < lower:
		sig.Type = domain.SignalTypeSell
		sig.Strength = (lower - last.Close) / lower
	}
	return sig, nil
}

// Source returns the strategy's own source text.
func (b *Breakout) Source() string { return breakoutSource }
