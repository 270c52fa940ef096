package backtest

import "math"

// TradingDaysPerYear annualises daily Sharpe.
const TradingDaysPerYear = 252

// PerformanceSummary holds the summary metrics produced by a backtest run.
// TotalReturn, MaxDrawdown and WinRate are fractions.
//
// A degenerate metric (too few returns, zero variance, no closed trades) is
// reported as 0 with its Degenerate flag set. Computed is false only for a
// summary that was never produced.
type PerformanceSummary struct {
	TotalReturn       float64 `json:"total_return"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	WinRate           float64 `json:"win_rate"`
	ProfitFactor      float64 `json:"profit_factor"`
	TotalTrades       int     `json:"total_trades"`
	NetPnL            float64 `json:"net_pnl"`
	TotalCommission   float64 `json:"total_commission"`
	Sessions          int     `json:"sessions"` // equity points behind TotalReturn
	SharpeDegenerate  bool    `json:"sharpe_degenerate"`
	WinRateDegenerate bool    `json:"win_rate_degenerate"`
	NonFiniteEquity   bool    `json:"non_finite_equity"`
	Computed          bool    `json:"computed"`
}

// Summarize derives the performance summary from an equity curve and the
// closed trades behind it. riskFree is an annual fraction.
func Summarize(equity []EquityPoint, trades []Trade, riskFree float64) PerformanceSummary {
	s := PerformanceSummary{Computed: true, TotalTrades: len(trades), Sessions: len(equity)}

	var wins int
	var grossWin, grossLoss float64
	for _, tr := range trades {
		if !finite(tr.PnL) {
			continue
		}
		s.NetPnL += tr.PnL
		s.TotalCommission += tr.Commission
		if tr.PnL > 0 {
			wins++
			grossWin += tr.PnL
		} else {
			grossLoss -= tr.PnL
		}
	}
	if len(trades) == 0 {
		s.WinRateDegenerate = true
	} else {
		s.WinRate = float64(wins) / float64(len(trades))
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossWin / grossLoss
	}

	values := make([]float64, len(equity))
	for i, p := range equity {
		if !finite(p.Value) {
			s.NonFiniteEquity = true
			s.SharpeDegenerate = true
			return s
		}
		values[i] = p.Value
	}

	if len(values) > 0 && values[0] > 0 {
		s.TotalReturn = values[len(values)-1]/values[0] - 1
	}
	s.MaxDrawdown = MaxDrawdown(values)
	s.SharpeRatio, s.SharpeDegenerate = Sharpe(Returns(values), riskFree)
	return s
}

// Returns converts an equity series to simple per-bar returns.
func Returns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

// Sharpe is the annualised Sharpe ratio of daily returns against an annual
// risk-free rate, using the sample standard deviation. It returns
// (0, true) when fewer than two returns exist or their variance is zero.
func Sharpe(returns []float64, riskFree float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, true
	}
	daily := riskFree / TradingDaysPerYear
	mean, std := meanStd(returns)
	if std < 1e-12 {
		return 0, true
	}
	return (mean - daily) / std * math.Sqrt(TradingDaysPerYear), false
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the
// peak.
func MaxDrawdown(values []float64) float64 {
	var peak, dd float64
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if d := (peak - v) / peak; d > dd {
				dd = d
			}
		}
	}
	return dd
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
