package promotion

import (
	"errors"
	"fmt"
)

// DefaultDrawdownMultiple is the live drawdown allowed relative to the
// backtest drawdown before it counts as drift.
const DefaultDrawdownMultiple = 1.5

// Config holds the promotion parameters. It is built once at startup and
// never mutated.
type Config struct {
	MinPaperTradingDays int
	ComparisonTolerance float64 // absolute return difference, as a fraction
	MaxSharpeDrift      float64
	DrawdownMultiple    float64 // zero means DefaultDrawdownMultiple
}

// Validate rejects negative or non-finite parameters. Tolerances must be
// positive.
func (c Config) Validate() error {
	var errs []error
	if c.MinPaperTradingDays < 0 {
		errs = append(errs, fmt.Errorf("min paper trading days %d is negative", c.MinPaperTradingDays))
	}
	if !(c.ComparisonTolerance > 0) {
		errs = append(errs, fmt.Errorf("comparison tolerance %v must be positive", c.ComparisonTolerance))
	}
	if !(c.MaxSharpeDrift > 0) {
		errs = append(errs, fmt.Errorf("max sharpe drift %v must be positive", c.MaxSharpeDrift))
	}
	if c.DrawdownMultiple < 0 {
		errs = append(errs, fmt.Errorf("drawdown multiple %v is negative", c.DrawdownMultiple))
	}
	return errors.Join(errs...)
}

func (c Config) withDefaults() Config {
	if c.DrawdownMultiple == 0 {
		c.DrawdownMultiple = DefaultDrawdownMultiple
	}
	return c
}
