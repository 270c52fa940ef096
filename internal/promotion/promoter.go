package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"evalgate/internal/audit"
	"evalgate/internal/backtest"
	"evalgate/internal/domain"
	"evalgate/internal/metrics"
	"evalgate/internal/store"
)

// Outcome is the result of evaluating a paper-trading strategy.
type Outcome string

const (
	OutcomeNoOp        Outcome = "no_op"
	OutcomePromoted    Outcome = "promoted"
	OutcomeRetired     Outcome = "retired"
	OutcomeNeedsReview Outcome = "needs_review"
)

// Decision reports what Evaluate did and why.
type Decision struct {
	StrategyID  string                `json:"strategy_id"`
	Outcome     Outcome               `json:"outcome"`
	From        domain.PromotionState `json:"from"`
	To          domain.PromotionState `json:"to"`
	ElapsedDays int                   `json:"elapsed_days"`
	Alerts      []DriftAlert          `json:"alerts,omitempty"`
	Reason      string                `json:"reason,omitempty"`
}

// Promoter owns every write to promotion records. Writes for one strategy
// are serialised in-process, and each write is a compare-and-swap at the
// store so a concurrent writer in another process loses with
// store.ErrStateConflict instead of double-advancing.
type Promoter struct {
	cfg     Config
	store   store.PromotionStore
	locks   *keyedMutex
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// NewPromoter validates cfg and returns a Promoter over st. m may be nil.
func NewPromoter(cfg Config, st store.PromotionStore, m *metrics.Metrics, log *slog.Logger) (*Promoter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("promotion config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Promoter{
		cfg:     cfg.withDefaults(),
		store:   st,
		locks:   newKeyedMutex(),
		metrics: m,
		log:     log.With("component", "promoter"),
		now:     time.Now,
	}, nil
}

// Config returns the frozen parameters.
func (p *Promoter) Config() Config { return p.cfg }

// BaselineFrom extracts the drift baseline from a backtest summary.
func BaselineFrom(s backtest.PerformanceSummary) domain.PerformanceBaseline {
	return domain.PerformanceBaseline{
		TotalReturn: s.TotalReturn,
		Sharpe:      s.SharpeRatio,
		MaxDrawdown: s.MaxDrawdown,
		WinRate:     s.WinRate,
		Trades:      s.TotalTrades,
		Sessions:    s.Sessions,
	}
}

// Admit creates the candidate record for a strategy whose audit passed.
// A strategy that already has a record cannot be admitted again.
func (p *Promoter) Admit(ctx context.Context, strategyID string, report audit.Report, summary backtest.PerformanceSummary) (*domain.PromotionRecord, error) {
	unlock := p.locks.Lock(strategyID)
	defer unlock()

	existing, err := p.store.GetPromotion(ctx, strategyID)
	switch {
	case err == nil:
		return nil, &TransitionError{StrategyID: strategyID, From: existing.State, Event: EventAdmit}
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	if !report.Passed() {
		return nil, fmt.Errorf("admit %s: %w (%d critical)", strategyID, ErrAuditFailed,
			report.Count(domain.SeverityCritical))
	}

	to, err := Transition("", EventAdmit)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()
	rec := domain.PromotionRecord{
		StrategyID: strategyID,
		State:      to,
		EnteredAt:  now,
		Baseline:   BaselineFrom(summary),
		Version:    1,
		UpdatedAt:  now,
	}
	entry := domain.TransitionEntry{StrategyID: strategyID, To: to, Event: string(EventAdmit), At: now}
	if err := p.store.CreatePromotion(ctx, rec, entry); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, &TransitionError{StrategyID: strategyID, From: domain.StateCandidate, Event: EventAdmit}
		}
		return nil, err
	}
	p.metrics.ObserveTransition("", to)
	p.log.Info("strategy admitted", "strategy", strategyID, "sharpe", rec.Baseline.Sharpe)
	return &rec, nil
}

// StartPaperTrading moves a candidate into paper trading.
func (p *Promoter) StartPaperTrading(ctx context.Context, strategyID string) (*domain.PromotionRecord, error) {
	unlock := p.locks.Lock(strategyID)
	defer unlock()

	rec, err := p.store.GetPromotion(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	return p.apply(ctx, rec, EventStartPaper, "", nil)
}

// Retire is the operator override: it retires a strategy from any
// non-terminal state.
func (p *Promoter) Retire(ctx context.Context, strategyID, reason string) (*domain.PromotionRecord, error) {
	unlock := p.locks.Lock(strategyID)
	defer unlock()

	rec, err := p.store.GetPromotion(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "operator override"
	}
	return p.apply(ctx, rec, EventOverride, reason, nil)
}

// Evaluate applies the paper-trading rules to a fresh live snapshot.
// Promoted strategies are a no-op. A risk violation or two or more drift
// alerts retire the strategy. Enough elapsed days with no alerts promote it.
// Anything else stores the snapshot and reports needs_review with the state
// unchanged. Candidates and retired strategies cannot be evaluated.
func (p *Promoter) Evaluate(ctx context.Context, strategyID string, snap domain.LiveSnapshot) (Decision, error) {
	unlock := p.locks.Lock(strategyID)
	defer unlock()

	rec, err := p.store.GetPromotion(ctx, strategyID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{StrategyID: strategyID, From: rec.State, To: rec.State}

	switch rec.State {
	case domain.StatePromoted:
		d.Outcome = OutcomeNoOp
		return d, nil
	case domain.StatePaperTesting:
	default:
		return Decision{}, &TransitionError{StrategyID: strategyID, From: rec.State, Event: EventPromote}
	}

	if snap.AsOf.IsZero() {
		snap.AsOf = p.now().UTC()
	}
	d.ElapsedDays = elapsedDays(rec.EnteredAt, snap.AsOf)
	d.Alerts = CheckDrift(rec.Baseline, snap, p.cfg)

	var ev Event
	switch {
	case snap.RiskViolation:
		ev, d.Outcome, d.Reason = EventRetire, OutcomeRetired, "active risk violation"
	case len(d.Alerts) >= 2:
		ev, d.Outcome, d.Reason = EventRetire, OutcomeRetired, "drift: "+alertMetrics(d.Alerts)
	case len(d.Alerts) == 0 && d.ElapsedDays >= p.cfg.MinPaperTradingDays:
		ev, d.Outcome = EventPromote, OutcomePromoted
		d.Reason = fmt.Sprintf("%d days in paper trading without drift", d.ElapsedDays)
	default:
		d.Outcome = OutcomeNeedsReview
		if len(d.Alerts) > 0 {
			d.Reason = "drift: " + alertMetrics(d.Alerts)
		} else {
			d.Reason = fmt.Sprintf("%d of %d paper trading days elapsed", d.ElapsedDays, p.cfg.MinPaperTradingDays)
		}
	}

	next, err := p.apply(ctx, rec, ev, d.Reason, &snap)
	if err != nil {
		return Decision{}, err
	}
	d.To = next.State
	p.log.Info("paper trading evaluated", "strategy", strategyID, "outcome", d.Outcome,
		"elapsed_days", d.ElapsedDays, "alerts", len(d.Alerts), "reason", d.Reason)
	return d, nil
}

// apply writes the result of ev on rec. An empty ev only refreshes the
// snapshot. Callers hold the strategy's lock.
func (p *Promoter) apply(ctx context.Context, rec *domain.PromotionRecord, ev Event, reason string, snap *domain.LiveSnapshot) (*domain.PromotionRecord, error) {
	now := p.now().UTC()
	next := *rec
	next.UpdatedAt = now
	if snap != nil {
		s := *snap
		next.Snapshot = &s
	}

	var entry *domain.TransitionEntry
	if ev != "" {
		to, err := Transition(rec.State, ev)
		if err != nil {
			var te *TransitionError
			if errors.As(err, &te) {
				te.StrategyID = rec.StrategyID
			}
			return nil, err
		}
		next.State = to
		next.EnteredAt = now
		entry = &domain.TransitionEntry{
			StrategyID: rec.StrategyID,
			From:       rec.State,
			To:         to,
			Event:      string(ev),
			Reason:     reason,
			At:         now,
		}
	}

	if err := p.store.SwapPromotion(ctx, rec.State, rec.Version, next, entry); err != nil {
		return nil, err
	}
	next.Version = rec.Version + 1
	if entry != nil {
		p.metrics.ObserveTransition(entry.From, entry.To)
		p.log.Info("promotion transition", "strategy", rec.StrategyID, "from", entry.From,
			"to", entry.To, "event", ev, "reason", reason)
	}
	return &next, nil
}

// Get returns the current record of a strategy.
func (p *Promoter) Get(ctx context.Context, strategyID string) (*domain.PromotionRecord, error) {
	return p.store.GetPromotion(ctx, strategyID)
}

// List returns records in state, or all records when state is empty.
func (p *Promoter) List(ctx context.Context, state domain.PromotionState) ([]domain.PromotionRecord, error) {
	return p.store.ListPromotions(ctx, state)
}

// History returns the transitions of a strategy, oldest first.
func (p *Promoter) History(ctx context.Context, strategyID string) ([]domain.TransitionEntry, error) {
	return p.store.PromotionHistory(ctx, strategyID)
}

// elapsedDays counts whole days between two instants.
func elapsedDays(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

func alertMetrics(alerts []DriftAlert) string {
	names := make([]string, len(alerts))
	for i, a := range alerts {
		names[i] = a.Metric
	}
	return strings.Join(names, ",")
}
