package builtins

import "evalgate/internal/strategy"

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register("sma-cross", newSMACrossFromSpec)
	r.Register("breakout", newBreakoutFromSpec)
	r.Register("flat", func(strategy.StrategySpec) (strategy.Strategy, error) {
		return Flat{}, nil
	})
}

// NewRegistry returns a registry preloaded with the built-ins.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}
