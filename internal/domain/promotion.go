package domain

import (
	"math"
	"time"
)

// PromotionState is the lifecycle stage of a strategy.
type PromotionState string

const (
	StateCandidate    PromotionState = "candidate"
	StatePaperTesting PromotionState = "paper_testing"
	StatePromoted     PromotionState = "promoted"
	StateRetired      PromotionState = "retired"
)

// Terminal reports whether no transition may leave s.
func (s PromotionState) Terminal() bool { return s == StateRetired }

// PerformanceBaseline is the backtest performance a live strategy is
// compared against for drift.
type PerformanceBaseline struct {
	TotalReturn float64 `json:"total_return"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	WinRate     float64 `json:"win_rate"`
	Trades      int     `json:"trades"`
	Sessions    int     `json:"sessions,omitempty"` // length of the curve TotalReturn spans
}

// ReturnOver scales TotalReturn to a curve of n sessions at the same
// compounded per-session rate. Without a known span it returns TotalReturn.
func (b PerformanceBaseline) ReturnOver(n int) float64 {
	if b.Sessions < 2 || !(b.TotalReturn > -1) {
		return b.TotalReturn
	}
	if n < 2 {
		return 0
	}
	perSession := math.Log1p(b.TotalReturn) / float64(b.Sessions-1)
	return math.Expm1(perSession * float64(n-1))
}

// LiveSnapshot is the most recent paper or live performance of a strategy.
type LiveSnapshot struct {
	AsOf          time.Time `json:"as_of"`
	Days          int       `json:"days"`
	Return        float64   `json:"return"`
	Sharpe        float64   `json:"sharpe"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	RiskViolation bool      `json:"risk_violation"`
}

// PromotionRecord is the persisted state of one strategy. Version increases
// on every write and backs the store's compare-and-swap.
type PromotionRecord struct {
	StrategyID string              `json:"strategy_id"`
	State      PromotionState      `json:"state"`
	EnteredAt  time.Time           `json:"entered_at"`
	Baseline   PerformanceBaseline `json:"baseline"`
	Snapshot   *LiveSnapshot       `json:"snapshot,omitempty"`
	Version    int64               `json:"version"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// TransitionEntry is one row of the append-only transition history.
type TransitionEntry struct {
	StrategyID string         `json:"strategy_id"`
	From       PromotionState `json:"from"`
	To         PromotionState `json:"to"`
	Event      string         `json:"event"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}
