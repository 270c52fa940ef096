// Package store defines storage interfaces for bars, backtest ledgers,
// promotion state, evaluation runs and paper-trading equity, with Parquet
// and SQLite implementations.
package store

import (
	"context"
	"errors"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("already exists")

	// ErrStateConflict is returned when a compare-and-swap finds the record
	// in a different state or version than the caller expected.
	ErrStateConflict = errors.New("promotion state conflict")
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// LedgerStore keeps the trade ledger and stitched equity curve of each
// evaluation run.
type LedgerStore interface {
	// WriteLedger persists the artifacts of one run.
	WriteLedger(ctx context.Context, runID string, trades []backtest.Trade, equity []backtest.EquityPoint) error

	// ReadLedger returns the artifacts of one run.
	ReadLedger(ctx context.Context, runID string) ([]backtest.Trade, []backtest.EquityPoint, error)
}

// PromotionStore holds one promotion record per strategy identity and the
// append-only history of its transitions. Every write appends its history
// row in the same transaction.
type PromotionStore interface {
	// CreatePromotion inserts a new record. It returns ErrExists if the
	// strategy already has one.
	CreatePromotion(ctx context.Context, rec domain.PromotionRecord, entry domain.TransitionEntry) error

	// GetPromotion returns the current record or ErrNotFound.
	GetPromotion(ctx context.Context, strategyID string) (*domain.PromotionRecord, error)

	// ListPromotions returns records in the given state, or all records when
	// state is empty, ordered by strategy id.
	ListPromotions(ctx context.Context, state domain.PromotionState) ([]domain.PromotionRecord, error)

	// SwapPromotion replaces the record only if it is still in expectState at
	// expectVersion, bumping the version. A mismatch returns
	// ErrStateConflict and leaves the record untouched. entry may be nil for
	// writes that do not change state.
	SwapPromotion(ctx context.Context, expectState domain.PromotionState, expectVersion int64,
		next domain.PromotionRecord, entry *domain.TransitionEntry) error

	// PromotionHistory returns the transitions of one strategy, oldest first.
	PromotionHistory(ctx context.Context, strategyID string) ([]domain.TransitionEntry, error)
}

// EvaluationRecord is the persisted outcome of one evaluation run.
type EvaluationRecord struct {
	RunID       string                      `json:"run_id"`
	StrategyID  string                      `json:"strategy_id"`
	SpecID      string                      `json:"spec_id"`
	Logic       string                      `json:"logic"`
	Symbol      string                      `json:"symbol"`
	WindowCount int                         `json:"window_count"`
	Summary     backtest.PerformanceSummary `json:"summary"`
	Passed      bool                        `json:"passed"`
	Critical    int                         `json:"critical"`
	Warnings    int                         `json:"warnings"`
	Info        int                         `json:"info"`
	Findings    []domain.Finding            `json:"findings"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// EvaluationStore keeps the audit trail of evaluation runs.
type EvaluationStore interface {
	SaveEvaluation(ctx context.Context, rec EvaluationRecord) error
	LatestEvaluation(ctx context.Context, strategyID string) (*EvaluationRecord, error)
	ListEvaluations(ctx context.Context, strategyID string, limit int) ([]EvaluationRecord, error)
}

// EquityRow is one daily paper-trading equity observation.
type EquityRow struct {
	StrategyID    string    `json:"strategy_id"`
	Date          time.Time `json:"date"`
	Equity        float64   `json:"equity"`
	RiskViolation bool      `json:"risk_violation"`
}

// PaperEquityStore records daily paper-trading equity per strategy.
type PaperEquityStore interface {
	// RecordEquity upserts the observation for the row's session date.
	RecordEquity(ctx context.Context, row EquityRow) error

	// EquityCurve returns observations on or after since, oldest first.
	EquityCurve(ctx context.Context, strategyID string, since time.Time) ([]EquityRow, error)
}
