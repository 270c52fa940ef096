package promotion

import (
	"fmt"
	"math"

	"evalgate/internal/domain"
)

// Drift metrics.
const (
	MetricReturn   = "return"
	MetricSharpe   = "sharpe"
	MetricDrawdown = "drawdown"
)

// DriftAlert is one live metric outside its tolerance band around the
// backtest baseline.
type DriftAlert struct {
	Metric   string  `json:"metric"`
	Live     float64 `json:"live"`
	Baseline float64 `json:"baseline"`
	Limit    float64 `json:"limit"`
	Message  string  `json:"message"`
}

// CheckDrift compares a live snapshot to its baseline. The live return is
// compared with the backtest return scaled to the same number of sessions
// and alerts when they differ by more than ComparisonTolerance. Sharpe
// alerts beyond MaxSharpeDrift; drawdown alerts when the live drawdown
// exceeds DrawdownMultiple times the backtest drawdown. Non-finite live
// values always alert.
func CheckDrift(baseline domain.PerformanceBaseline, snap domain.LiveSnapshot, cfg Config) []DriftAlert {
	cfg = cfg.withDefaults()
	var alerts []DriftAlert

	expected := baseline.ReturnOver(snap.Days)
	if d := math.Abs(snap.Return - expected); !(d <= cfg.ComparisonTolerance) {
		alerts = append(alerts, DriftAlert{
			Metric: MetricReturn, Live: snap.Return, Baseline: expected, Limit: cfg.ComparisonTolerance,
			Message: fmt.Sprintf("live return %.4f over %d sessions differs from backtest %.4f by more than %.4f",
				snap.Return, snap.Days, expected, cfg.ComparisonTolerance),
		})
	}
	if d := math.Abs(snap.Sharpe - baseline.Sharpe); !(d <= cfg.MaxSharpeDrift) {
		alerts = append(alerts, DriftAlert{
			Metric: MetricSharpe, Live: snap.Sharpe, Baseline: baseline.Sharpe, Limit: cfg.MaxSharpeDrift,
			Message: fmt.Sprintf("live sharpe %.2f differs from backtest %.2f by more than %.2f",
				snap.Sharpe, baseline.Sharpe, cfg.MaxSharpeDrift),
		})
	}
	limit := cfg.DrawdownMultiple * baseline.MaxDrawdown
	if !(snap.MaxDrawdown <= limit) {
		alerts = append(alerts, DriftAlert{
			Metric: MetricDrawdown, Live: snap.MaxDrawdown, Baseline: baseline.MaxDrawdown, Limit: limit,
			Message: fmt.Sprintf("live drawdown %.4f exceeds %.1fx backtest drawdown %.4f",
				snap.MaxDrawdown, cfg.DrawdownMultiple, baseline.MaxDrawdown),
		})
	}
	return alerts
}
