// Package engine gates order flow: the RiskGate vetoes individual orders
// and the Engine only lets strategies that earned it reach a broker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evalgate/internal/broker"
	"evalgate/internal/domain"
	"evalgate/internal/metrics"
	"evalgate/internal/store"
)

// ErrNotEligible is returned when a strategy's promotion state does not
// allow orders on the engine's broker.
var ErrNotEligible = errors.New("strategy not eligible to trade")

// PromotionReader is the read side of the promotion store.
type PromotionReader interface {
	GetPromotion(ctx context.Context, strategyID string) (*domain.PromotionRecord, error)
}

var _ PromotionReader = (store.PromotionStore)(nil)

// Submission is the outcome of SubmitOrder. Order is nil when the gate
// rejected the request.
type Submission struct {
	Risk  RiskCheckResult `json:"risk"`
	Order *domain.Order   `json:"order,omitempty"`
}

// Engine routes orders from strategies through the RiskGate to a broker.
// Promoted strategies may trade on any broker; strategies in paper
// trading only on the simulator.
type Engine struct {
	broker     broker.Broker
	gate       *RiskGate
	promotions PromotionReader
	sectors    map[string]string
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies. m and
// log may be nil.
func NewEngine(
	b broker.Broker,
	gate *RiskGate,
	promotions PromotionReader,
	sectors map[string]string,
	m *metrics.Metrics,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		broker:     b,
		gate:       gate,
		promotions: promotions,
		sectors:    sectors,
		metrics:    m,
		log:        log.With("component", "engine", "broker", b.Name()),
	}
}

// Eligible reports whether the strategy may place orders on this engine's
// broker.
func (e *Engine) Eligible(ctx context.Context, strategyID string) (bool, error) {
	rec, err := e.promotions.GetPromotion(ctx, strategyID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch rec.State {
	case domain.StatePromoted:
		return true, nil
	case domain.StatePaperTesting:
		return e.broker.Name() == broker.SimulatorName, nil
	}
	return false, nil
}

// Portfolio builds the RiskGate's view of the account from the broker.
func (e *Engine) Portfolio(ctx context.Context) (PortfolioState, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return PortfolioState{}, fmt.Errorf("get account: %w", err)
	}
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return PortfolioState{}, fmt.Errorf("get positions: %w", err)
	}
	state := PortfolioState{
		Equity:      acct.Equity,
		DailyPnLPct: acct.DailyPnLPct(),
		Sectors:     e.sectors,
	}
	for _, p := range positions {
		state.Holdings = append(state.Holdings, Holding{Symbol: p.Symbol, MarketValue: p.MarketValue})
	}
	return state, nil
}

// SubmitOrder checks eligibility, runs the RiskGate against the current
// portfolio, and forwards approved orders to the broker as market orders.
// A gate rejection is returned in the Submission with a nil error.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*Submission, error) {
	ok, err := e.Eligible(ctx, req.StrategyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s on %s: %w", req.StrategyID, e.broker.Name(), ErrNotEligible)
	}

	state, err := e.Portfolio(ctx)
	if err != nil {
		return nil, err
	}
	result := e.gate.Check(req, state)
	e.metrics.ObserveRiskCheck(result.Approved, string(result.Reason))
	if !result.Approved {
		e.log.Warn("order rejected", "strategy", req.StrategyID, "symbol", req.Symbol,
			"side", req.Side, "qty", req.Qty, "reason", result.Reason, "message", result.Message)
		return &Submission{Risk: result}, nil
	}
	for _, w := range result.Warnings {
		e.log.Warn("risk warning", "strategy", req.StrategyID, "symbol", req.Symbol, "warning", w)
	}

	now := time.Now().UTC()
	order, err := e.broker.SubmitOrder(ctx, &domain.Order{
		StrategyID: req.StrategyID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       domain.OrderTypeMarket,
		Status:     domain.OrderStatusNew,
		Qty:        req.Qty,
		LimitPrice: req.Price,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("submit %s %s: %w", req.Side, req.Symbol, err)
	}
	e.log.Info("order submitted", "strategy", req.StrategyID, "symbol", req.Symbol,
		"side", req.Side, "qty", req.Qty, "id", order.ID, "status", order.Status)
	return &Submission{Risk: result, Order: order}, nil
}

// CancelOrder requests cancellation of an open order.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	return e.broker.CancelOrder(ctx, orderID)
}

// GetPositions returns all currently open positions.
func (e *Engine) GetPositions(ctx context.Context) ([]domain.Position, error) {
	return e.broker.GetPositions(ctx)
}
