package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evalgate/internal/domain"
	"evalgate/internal/strategy"
)

// WindowStat is the per-window outcome. In-sample figures come from
// simulating the train slice and serve as the overfitting baseline.
type WindowStat struct {
	Window
	TestStartDate time.Time `json:"test_start_date"`
	TestEndDate   time.Time `json:"test_end_date"` // last bar of the test slice
	ISSharpe      float64   `json:"is_sharpe"`
	ISReturn      float64   `json:"is_return"`
	ISComputed    bool      `json:"is_computed"`
	ISDegenerate  bool      `json:"is_degenerate"` // IS Sharpe from too few or constant returns
	OOSSharpe     float64   `json:"oos_sharpe"`
	OOSReturn     float64   `json:"oos_return"`
	OOSComputed   bool      `json:"oos_computed"`
	OOSDegenerate bool      `json:"oos_degenerate"`
	Trades        int       `json:"trades"`
	Skipped       bool      `json:"skipped"`
	SkipReason    string    `json:"skip_reason,omitempty"`
}

// Result is the outcome of one walk-forward run. Equity is the stitched
// test-window curve; Series is a copy of the input bars for the auditor.
type Result struct {
	StrategyID  string             `json:"strategy_id"`
	Symbol      string             `json:"symbol"`
	Config      Config             `json:"config"`
	Trades      []Trade            `json:"trades"`
	Equity      []EquityPoint      `json:"equity"`
	Summary     PerformanceSummary `json:"summary"`
	Windows     []WindowStat       `json:"windows"`
	WindowCount int                `json:"window_count"`
	Warnings    []domain.Finding   `json:"warnings,omitempty"`
	Series      []domain.Bar       `json:"-"`
}

// Backtester runs walk-forward evaluations with a fixed configuration.
type Backtester struct {
	cfg Config
	log *slog.Logger
}

// NewBacktester validates cfg and returns a Backtester. A nil logger uses
// slog.Default.
func NewBacktester(cfg Config, log *slog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{cfg: cfg, log: log.With("component", "backtest")}, nil
}

// Config returns the backtester's configuration.
func (bt *Backtester) Config() Config { return bt.cfg }

// Run executes a walk-forward backtest of strat over bars. Configuration
// and series-ordering problems are returned as errors before any
// simulation. A window whose simulation fails is skipped: it contributes
// flat equity and a warning in Result.Warnings.
func (bt *Backtester) Run(ctx context.Context, strategyID string, strat strategy.Strategy, bars []domain.Bar) (*Result, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: bar %d (%s) follows %s", ErrUnorderedSeries, i,
				bars[i].Timestamp.Format(time.RFC3339), bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	windows, err := Split(len(bars), bt.cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Result{
		StrategyID:  strategyID,
		Symbol:      bars[0].Symbol,
		Config:      bt.cfg,
		WindowCount: len(windows),
		Series:      append([]domain.Bar(nil), bars...),
	}

	capital := bt.cfg.capital()
	var stitched []EquityPoint
	var lastTS time.Time
	covered := 0 // first bar not yet on the stitched curve
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stat := WindowStat{
			Window:        w,
			TestStartDate: bars[w.TestStart].Timestamp,
			TestEndDate:   bars[w.TestEnd-1].Timestamp,
		}

		// In-sample proxy on the train slice, always from the initial capital.
		if is, err := simulate(ctx, strat, bars, w.TrainStart, w.TrainStart, w.TrainEnd, w.Index, bt.cfg.capital(), bt.cfg); err == nil {
			sum := Summarize(is.equity, is.trades, bt.cfg.RiskFreeRate)
			stat.ISSharpe, stat.ISReturn = sum.SharpeRatio, sum.TotalReturn
			stat.ISComputed, stat.ISDegenerate = !sum.NonFiniteEquity, sum.SharpeDegenerate
		} else {
			bt.log.Debug("in-sample simulation failed", "strategy", strategyID, "window", w.Index, "error", err)
		}

		// The full test slice is the window's own out-of-sample measurement.
		// Only bars from `from` on reach the ledger and the stitched curve.
		from := max(w.TestStart, covered)
		oos, err := simulate(ctx, strat, bars, w.TestStart, w.TestStart, w.TestEnd, w.Index, capital, bt.cfg)
		if err == nil {
			sum := Summarize(oos.equity, oos.trades, bt.cfg.RiskFreeRate)
			stat.OOSSharpe, stat.OOSReturn = sum.SharpeRatio, sum.TotalReturn
			stat.OOSComputed, stat.OOSDegenerate = !sum.NonFiniteEquity, sum.SharpeDegenerate
			stat.Trades = len(oos.trades)
			if from > w.TestStart {
				oos, err = simulate(ctx, strat, bars, w.TestStart, from, w.TestEnd, w.Index, capital, bt.cfg)
			}
		}
		if err != nil {
			if !errors.Is(err, errSimulation) {
				return nil, err
			}
			bt.log.Warn("window skipped", "strategy", strategyID, "window", w.Index, "error", err)
			stat.Skipped, stat.SkipReason = true, err.Error()
			res.Warnings = append(res.Warnings, domain.Finding{
				Severity: domain.SeverityWarning,
				Category: domain.CategorySimulation,
				Message:  fmt.Sprintf("window %d skipped: %v", w.Index, err),
				Evidence: fmt.Sprintf("window=%d test=%s..%s", w.Index,
					stat.TestStartDate.Format(time.DateOnly), stat.TestEndDate.Format(time.DateOnly)),
			})
			oos = flatResult(bars, from, w.TestEnd, capital)
		}
		res.Trades = append(res.Trades, oos.trades...)

		stitched, lastTS = stitch(stitched, lastTS, oos, bt.cfg.capital())
		if len(stitched) > 0 {
			capital = stitched[len(stitched)-1].Value
		}
		covered = max(covered, w.TestEnd)
		res.Windows = append(res.Windows, stat)
	}

	res.Equity = stitched
	res.Summary = Summarize(stitched, res.Trades, bt.cfg.RiskFreeRate)

	bt.log.Info("backtest complete",
		"strategy", strategyID,
		"windows", len(windows),
		"trades", len(res.Trades),
		"sharpe", res.Summary.SharpeRatio,
		"total_return", res.Summary.TotalReturn,
		"skipped", len(res.Warnings),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// stitch appends one window's test equity to the running curve. Bars
// already covered by an earlier window are dropped, and each new point is
// the previous stitched value times the window's own per-bar return, so the
// curve stays continuous and compounding across overlapping windows.
func stitch(curve []EquityPoint, lastTS time.Time, win simResult, initial float64) ([]EquityPoint, time.Time) {
	prev := win.capital
	for _, p := range win.equity {
		if len(curve) > 0 && !p.Timestamp.After(lastTS) {
			prev = p.Value
			continue
		}
		base := initial
		if len(curve) > 0 {
			base = curve[len(curve)-1].Value
		}
		ratio := 1.0
		if prev != 0 {
			ratio = p.Value / prev
		}
		curve = append(curve, EquityPoint{Timestamp: p.Timestamp, Value: base * ratio})
		lastTS = p.Timestamp
		prev = p.Value
	}
	return curve, lastTS
}
