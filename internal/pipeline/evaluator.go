// Package pipeline runs the evaluation cycles: candidates are backtested,
// audited and admitted, and strategies in paper trading are checked daily
// against their backtest baseline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"evalgate/internal/audit"
	"evalgate/internal/backtest"
	"evalgate/internal/domain"
	"evalgate/internal/marketdata"
	"evalgate/internal/metrics"
	"evalgate/internal/promotion"
	"evalgate/internal/store"
	"evalgate/internal/strategy"
)

const (
	defaultLookbackDays = 5 * 365
	defaultMaxWorkers   = 4
)

// Evaluation result labels, also used as metric label values.
const (
	ResultAdmitted = "admitted"
	ResultExisting = "existing"
	ResultFailed   = "audit_failed"
	ResultError    = "error"
)

// Deps are the collaborators of an Evaluator. Metrics and Logger may be
// nil; every other field is required.
type Deps struct {
	Backtester  *backtest.Backtester
	Auditor     *audit.Auditor
	Promoter    *promotion.Promoter
	Bars        marketdata.Provider
	Listings    marketdata.ListingResolver
	Evaluations store.EvaluationStore
	Ledgers     store.LedgerStore
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Options tune an Evaluator. Zero fields take defaults.
type Options struct {
	LookbackDays int
	MaxWorkers   int
}

// Evaluation is the outcome of evaluating one candidate.
type Evaluation struct {
	RunID      string                      `json:"run_id"`
	StrategyID string                      `json:"strategy_id"`
	Result     string                      `json:"result"`
	Summary    backtest.PerformanceSummary `json:"summary"`
	Report     audit.Report                `json:"report"`
	Record     *domain.PromotionRecord     `json:"record,omitempty"`
	Err        error                       `json:"-"`
}

// Evaluator backtests, audits and admits candidates.
type Evaluator struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

// NewEvaluator checks that the required collaborators are present.
func NewEvaluator(d Deps, opts Options) (*Evaluator, error) {
	var errs []error
	if d.Backtester == nil {
		errs = append(errs, errors.New("pipeline: backtester is nil"))
	}
	if d.Auditor == nil {
		errs = append(errs, errors.New("pipeline: auditor is nil"))
	}
	if d.Promoter == nil {
		errs = append(errs, errors.New("pipeline: promoter is nil"))
	}
	if d.Bars == nil {
		errs = append(errs, errors.New("pipeline: bar provider is nil"))
	}
	if d.Listings == nil {
		errs = append(errs, errors.New("pipeline: listing resolver is nil"))
	}
	if d.Evaluations == nil || d.Ledgers == nil {
		errs = append(errs, errors.New("pipeline: evaluation and ledger stores are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultLookbackDays
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = defaultMaxWorkers
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{
		deps: d,
		opts: opts,
		log:  log.With("component", "evaluator"),
		now:  time.Now,
	}, nil
}

// Evaluate runs one candidate through backtest and audit, persists the
// evaluation and its ledger, and admits the strategy when the audit passed.
// A strategy that already holds a promotion record is never re-admitted,
// so re-running a cycle is safe. Audit failures are reported in the
// returned Evaluation, not as errors.
func (e *Evaluator) Evaluate(ctx context.Context, c strategy.Candidate) (*Evaluation, error) {
	id := c.Spec.Identity()
	symbol := c.Spec.PrimarySymbol()
	ev := &Evaluation{RunID: uuid.NewString(), StrategyID: id}
	log := e.log.With("strategy", id, "run", ev.RunID)

	started := e.now()
	fail := func(err error) (*Evaluation, error) {
		ev.Result, ev.Err = ResultError, err
		e.deps.Metrics.ObserveEvaluation(ResultError, nil, 0)
		log.Warn("evaluation failed", "error", err)
		return ev, err
	}

	end := started.UTC()
	start := end.AddDate(0, 0, -e.opts.LookbackDays)
	bars, err := e.deps.Bars.Bars(ctx, symbol, start, end)
	if err != nil {
		return fail(fmt.Errorf("fetching %s bars: %w", symbol, err))
	}

	result, err := e.deps.Backtester.Run(ctx, id, c.Strategy, bars)
	if err != nil {
		return fail(fmt.Errorf("backtest %s: %w", id, err))
	}
	took := e.now().Sub(started)

	universe, err := e.deps.Listings.Resolve(ctx, c.Spec.Universe)
	if err != nil {
		return fail(fmt.Errorf("resolving universe: %w", err))
	}

	ev.Report = e.deps.Auditor.Audit(result, c.Source(), universe)
	ev.Summary = result.Summary

	if err := e.deps.Ledgers.WriteLedger(ctx, ev.RunID, result.Trades, result.Equity); err != nil {
		return fail(fmt.Errorf("writing ledger: %w", err))
	}

	ev.Result = ResultFailed
	if ev.Report.Passed() {
		rec, err := e.deps.Promoter.Get(ctx, id)
		switch {
		case err == nil:
			ev.Result, ev.Record = ResultExisting, rec
		case errors.Is(err, store.ErrNotFound):
			rec, err = e.deps.Promoter.Admit(ctx, id, ev.Report, result.Summary)
			if err != nil && !errors.Is(err, promotion.ErrInvalidTransition) {
				return fail(err)
			}
			if err != nil {
				// Lost an admit race; the record exists now.
				rec, _ = e.deps.Promoter.Get(ctx, id)
				ev.Result = ResultExisting
			} else {
				ev.Result = ResultAdmitted
			}
			ev.Record = rec
		default:
			return fail(err)
		}
	}

	if err := e.deps.Evaluations.SaveEvaluation(ctx, e.record(ev, c, result)); err != nil {
		return fail(fmt.Errorf("saving evaluation: %w", err))
	}

	e.deps.Metrics.ObserveEvaluation(ev.Result, ev.Report.Findings(), took)
	log.Info("candidate evaluated", "result", ev.Result, "windows", result.WindowCount,
		"sharpe", result.Summary.SharpeRatio, "critical", ev.Report.Count(domain.SeverityCritical),
		"warnings", ev.Report.Count(domain.SeverityWarning))
	return ev, nil
}

// EvaluateAll evaluates candidates in parallel, at most MaxWorkers at a
// time. A failing candidate does not stop the others; its error is carried
// in its Evaluation. The results follow the order of candidates. Only
// cancellation of ctx returns an error.
func (e *Evaluator) EvaluateAll(ctx context.Context, candidates []strategy.Candidate) ([]*Evaluation, error) {
	results := make([]*Evaluation, len(candidates))
	sem := make(chan struct{}, e.opts.MaxWorkers)

	g, gctx := errgroup.WithContext(ctx)

	for i, c := range candidates {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			ev, _ := e.Evaluate(gctx, c)
			results[i] = ev
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Evaluator) record(ev *Evaluation, c strategy.Candidate, result *backtest.Result) store.EvaluationRecord {
	return store.EvaluationRecord{
		RunID:       ev.RunID,
		StrategyID:  ev.StrategyID,
		SpecID:      c.Spec.ID,
		Logic:       c.Spec.Logic,
		Symbol:      result.Symbol,
		WindowCount: result.WindowCount,
		Summary:     result.Summary,
		Passed:      ev.Report.Passed(),
		Critical:    ev.Report.Count(domain.SeverityCritical),
		Warnings:    ev.Report.Count(domain.SeverityWarning),
		Info:        ev.Report.Count(domain.SeverityInfo),
		Findings:    ev.Report.Findings(),
		CreatedAt:   e.now().UTC(),
	}
}
