// Package backtest runs walk-forward evaluations of a strategy over a bar
// series: it splits the series into train/test windows, simulates trades in
// each window with slippage and commission, and stitches the test windows
// into one compounding equity curve.
package backtest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every configuration problem.
	ErrInvalidConfig = errors.New("invalid backtest config")

	// ErrInsufficientHistory means the series cannot fill one train+test window.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrUnorderedSeries means bar timestamps are not strictly increasing.
	ErrUnorderedSeries = errors.New("bar timestamps not strictly increasing")
)

// DefaultInitialCapital is used when Config.InitialCapital is zero.
const DefaultInitialCapital = 100_000.0

// PartialPolicy decides what happens to a final test slice shorter than
// TestWindow.
type PartialPolicy string

const (
	// PartialDrop discards it.
	PartialDrop PartialPolicy = "drop"
	// PartialTruncate keeps it as a shorter test window.
	PartialTruncate PartialPolicy = "truncate"
)

// Config holds walk-forward parameters. Window lengths are in bars;
// SlippagePct is percent (0.05 = 0.05 %); RiskFreeRate is an annual
// fraction.
type Config struct {
	TrainWindow        int
	TestWindow         int
	Step               int
	SlippagePct        float64
	CommissionPerTrade float64
	RiskFreeRate       float64
	InitialCapital     float64
	PartialWindows     PartialPolicy
}

// Validate reports every problem with c.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	if c.TrainWindow <= 0 {
		bad("train_window must be positive, got %d", c.TrainWindow)
	}
	if c.TestWindow <= 0 {
		bad("test_window must be positive, got %d", c.TestWindow)
	}
	if c.Step <= 0 {
		bad("step must be positive, got %d", c.Step)
	}
	if c.Step > c.TestWindow && c.TestWindow > 0 {
		bad("step %d exceeds test_window %d and would leave bars untested", c.Step, c.TestWindow)
	}
	if c.SlippagePct < 0 || c.SlippagePct >= 100 {
		bad("slippage_pct must be in [0, 100), got %v", c.SlippagePct)
	}
	if c.CommissionPerTrade < 0 {
		bad("commission_per_trade must not be negative, got %v", c.CommissionPerTrade)
	}
	if c.InitialCapital < 0 {
		bad("initial_capital must not be negative, got %v", c.InitialCapital)
	}
	switch c.PartialWindows {
	case "", PartialDrop, PartialTruncate:
	default:
		bad("unknown partial_windows policy %q", c.PartialWindows)
	}
	return errors.Join(errs...)
}

func (c Config) capital() float64 {
	if c.InitialCapital == 0 {
		return DefaultInitialCapital
	}
	return c.InitialCapital
}

func (c Config) policy() PartialPolicy {
	if c.PartialWindows == "" {
		return PartialDrop
	}
	return c.PartialWindows
}
