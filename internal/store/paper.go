package store

import (
	"context"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

// Snapshot derives a LiveSnapshot from the paper-trading equity recorded on
// or after since. Return, Sharpe and drawdown come from the same metrics the
// backtester uses, with a zero risk-free rate; RiskViolation mirrors the
// latest observation. With no rows the snapshot is empty except for AsOf.
func Snapshot(ctx context.Context, s PaperEquityStore, strategyID string, since, asOf time.Time) (domain.LiveSnapshot, error) {
	rows, err := s.EquityCurve(ctx, strategyID, since)
	if err != nil {
		return domain.LiveSnapshot{}, err
	}
	return SnapshotFromRows(rows, asOf), nil
}

// SnapshotFromRows is the pure part of Snapshot.
func SnapshotFromRows(rows []EquityRow, asOf time.Time) domain.LiveSnapshot {
	snap := domain.LiveSnapshot{AsOf: asOf, Days: len(rows)}
	if len(rows) == 0 {
		return snap
	}
	values := make([]float64, len(rows))
	for i, r := range rows {
		values[i] = r.Equity
	}
	if values[0] > 0 {
		snap.Return = values[len(values)-1]/values[0] - 1
	}
	snap.Sharpe, _ = backtest.Sharpe(backtest.Returns(values), 0)
	snap.MaxDrawdown = backtest.MaxDrawdown(values)
	snap.RiskViolation = rows[len(rows)-1].RiskViolation
	return snap
}
