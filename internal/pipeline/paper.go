package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"evalgate/internal/broker"
	"evalgate/internal/domain"
	"evalgate/internal/engine"
	"evalgate/internal/marketdata"
	"evalgate/internal/metrics"
	"evalgate/internal/store"
	"evalgate/internal/strategy"
)

const (
	defaultPaperCapital  = 100_000
	defaultPaperLookback = 400
)

// PaperOptions tune a PaperTrader. Zero fields take defaults.
type PaperOptions struct {
	// Capital is the starting cash of each strategy's simulated account.
	Capital      float64
	// PositionPct sizes entries in percent of equity. Zero means 90% of the
	// gate's position limit.
	PositionPct  float64
	// LookbackDays is the calendar span of bars shown to a strategy.
	LookbackDays int
	// Sectors maps symbols to sectors for the risk checks.
	Sectors      map[string]string
	// Live, when set, also receives the orders of promoted strategies,
	// sized against its own account. Paper accounts keep running.
	Live         broker.Broker
}

// PaperResult reports one strategy's paper-trading step.
type PaperResult struct {
	StrategyID string                `json:"strategy_id"`
	Signal     domain.SignalType     `json:"signal"`
	Submission *engine.Submission    `json:"submission,omitempty"`
	Live       *engine.Submission    `json:"live,omitempty"`
	Equity     float64               `json:"equity"`
	Violations []engine.RejectReason `json:"violations,omitempty"`
}

type paperAccount struct {
	broker *broker.SimulatorBroker
	engine *engine.Engine

	// pending was signalled at the close of signalAt and fills at the open
	// of the next session, as in the backtest.
	pending  domain.SignalType
	signalAt time.Time
}

// PaperTrader runs strategies in paper trading or promoted on simulated
// accounts, one per strategy. Each step fills the order signalled on an
// earlier bar at the open of the session after it, routing it through the
// Engine and its RiskGate, then feeds the latest bar to the strategy and
// records the account's equity for the daily promotion cycle.
// Simulated accounts live in memory and start over when the process does.
type PaperTrader struct {
	promotions store.PromotionStore
	equity     store.PaperEquityStore
	bars       marketdata.Provider
	gate       *engine.RiskGate
	metrics    *metrics.Metrics
	opts       PaperOptions
	candidates map[string]strategy.Candidate
	live       *engine.Engine
	log        *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	accounts map[string]*paperAccount
}

// NewPaperTrader creates a PaperTrader for the given candidates, keyed by
// their identity. Strategies with a promotion record but no candidate are
// skipped. m and log may be nil.
func NewPaperTrader(
	promotions store.PromotionStore,
	equity store.PaperEquityStore,
	bars marketdata.Provider,
	gate *engine.RiskGate,
	candidates []strategy.Candidate,
	opts PaperOptions,
	m *metrics.Metrics,
	log *slog.Logger,
) *PaperTrader {
	if log == nil {
		log = slog.Default()
	}
	if opts.Capital <= 0 {
		opts.Capital = defaultPaperCapital
	}
	if opts.PositionPct <= 0 {
		opts.PositionPct = 0.9 * gate.Limits().MaxPositionPct
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultPaperLookback
	}
	byID := make(map[string]strategy.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.Spec.Identity()] = c
	}
	var live *engine.Engine
	if opts.Live != nil {
		live = engine.NewEngine(opts.Live, gate, promotions, opts.Sectors, m, log)
	}
	return &PaperTrader{
		promotions: promotions,
		equity:     equity,
		bars:       bars,
		gate:       gate,
		metrics:    m,
		opts:       opts,
		candidates: byID,
		live:       live,
		log:        log.With("component", "paper"),
		now:        time.Now,
		accounts:   make(map[string]*paperAccount),
	}
}

// Step runs one session for every strategy in paper trading or promoted.
// Per-strategy errors are joined; the other strategies still run.
func (p *PaperTrader) Step(ctx context.Context) ([]PaperResult, error) {
	var recs []domain.PromotionRecord
	for _, state := range []domain.PromotionState{domain.StatePaperTesting, domain.StatePromoted} {
		r, err := p.promotions.ListPromotions(ctx, state)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r...)
	}

	var results []PaperResult
	var errs []error
	for _, rec := range recs {
		c, ok := p.candidates[rec.StrategyID]
		if !ok {
			p.log.Debug("no candidate for strategy, skipped", "strategy", rec.StrategyID)
			continue
		}
		res, err := p.step(ctx, c, rec.State)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rec.StrategyID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (p *PaperTrader) step(ctx context.Context, c strategy.Candidate, state domain.PromotionState) (PaperResult, error) {
	id := c.Spec.Identity()
	symbol := c.Spec.PrimarySymbol()
	res := PaperResult{StrategyID: id}

	acct, err := p.account(ctx, c)
	if err != nil {
		return res, err
	}

	now := p.now().UTC()
	bars, err := p.bars.Bars(ctx, symbol, now.AddDate(0, 0, -p.opts.LookbackDays), now)
	if err != nil {
		return res, fmt.Errorf("fetching %s bars: %w", symbol, err)
	}
	if len(bars) == 0 {
		return res, fmt.Errorf("%s: %w", symbol, marketdata.ErrNoData)
	}
	last := bars[len(bars)-1]

	acct.broker.StartSession()
	if next, ok := sessionAfter(bars, acct.signalAt); acct.pending != "" && ok {
		if err := p.fill(ctx, acct, &res, id, symbol, state, next.Open); err != nil {
			return res, err
		}
		acct.pending = ""
	}
	acct.broker.MarkPrice(symbol, last.Close)

	sig, err := c.Strategy.OnBar(ctx, strategy.NewView(bars, 0, len(bars)-1))
	if err != nil {
		return res, fmt.Errorf("strategy: %w", err)
	}
	res.Signal = sig.Type
	switch sig.Type {
	case domain.SignalTypeBuy, domain.SignalTypeSell:
		acct.pending, acct.signalAt = sig.Type, last.Timestamp
	default:
		acct.pending = ""
	}

	portfolio, err := acct.engine.Portfolio(ctx)
	if err != nil {
		return res, err
	}
	res.Equity = portfolio.Equity
	res.Violations = p.gate.Violations(portfolio)
	if len(res.Violations) > 0 {
		p.log.Warn("paper account breaches risk limits", "strategy", id, "violations", res.Violations)
	}

	row := store.EquityRow{
		StrategyID:    id,
		Date:          last.Timestamp,
		Equity:        portfolio.Equity,
		RiskViolation: len(res.Violations) > 0,
	}
	if err := p.equity.RecordEquity(ctx, row); err != nil {
		return res, fmt.Errorf("recording equity: %w", err)
	}
	return res, nil
}

// fill executes the account's pending signal at price, mirroring it to the
// live broker when the strategy is promoted.
func (p *PaperTrader) fill(ctx context.Context, acct *paperAccount, res *PaperResult, id, symbol string, state domain.PromotionState, price float64) error {
	acct.broker.MarkPrice(symbol, price)
	req, err := p.order(ctx, acct.broker, id, symbol, acct.pending, price)
	if err != nil {
		return err
	}
	if req != nil {
		sub, err := acct.engine.SubmitOrder(ctx, *req)
		if err != nil {
			return err
		}
		res.Submission = sub
	}

	if state != domain.StatePromoted || p.live == nil {
		return nil
	}
	liveReq, err := p.order(ctx, p.opts.Live, id, symbol, acct.pending, price)
	if err != nil {
		return fmt.Errorf("live: %w", err)
	}
	if liveReq != nil {
		sub, err := p.live.SubmitOrder(ctx, *liveReq)
		if err != nil {
			return fmt.Errorf("live: %w", err)
		}
		res.Live = sub
	}
	return nil
}

// sessionAfter returns the first bar strictly after t.
func sessionAfter(bars []domain.Bar, t time.Time) (domain.Bar, bool) {
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Timestamp.After(t) })
	if i == len(bars) {
		return domain.Bar{}, false
	}
	return bars[i], true
}

// order turns a signal into an order request against b's account: a buy
// opens a position sized to PositionPct of equity, a sell closes the open
// position. Anything else, or a buy that rounds to zero shares, yields nil.
func (p *PaperTrader) order(ctx context.Context, b broker.Broker, id, symbol string, sig domain.SignalType, price float64) (*engine.OrderRequest, error) {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	var held float64
	for _, pos := range positions {
		if pos.Symbol == symbol {
			held = pos.Qty
		}
	}

	switch {
	case sig == domain.SignalTypeBuy && held == 0:
		account, err := b.GetAccount(ctx)
		if err != nil {
			return nil, err
		}
		qty := math.Floor(account.Equity * p.opts.PositionPct / 100 / price)
		if qty < 1 {
			return nil, nil
		}
		return &engine.OrderRequest{StrategyID: id, Symbol: symbol, Side: domain.OrderSideBuy, Qty: qty, Price: price}, nil
	case sig == domain.SignalTypeSell && held > 0:
		return &engine.OrderRequest{StrategyID: id, Symbol: symbol, Side: domain.OrderSideSell, Qty: held, Price: price}, nil
	}
	return nil, nil
}

// account returns the strategy's simulated account, creating it and
// initialising the strategy on first use.
func (p *PaperTrader) account(ctx context.Context, c strategy.Candidate) (*paperAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := c.Spec.Identity()
	if acct, ok := p.accounts[id]; ok {
		return acct, nil
	}
	if err := c.Strategy.Init(ctx); err != nil {
		return nil, fmt.Errorf("init strategy: %w", err)
	}
	sim := broker.NewSimulatorBroker(p.opts.Capital)
	acct := &paperAccount{
		broker: sim,
		engine: engine.NewEngine(sim, p.gate, p.promotions, p.opts.Sectors, p.metrics, p.log),
	}
	p.accounts[id] = acct
	p.log.Info("paper account opened", "strategy", id, "capital", p.opts.Capital)
	return acct, nil
}
