package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"evalgate/internal/domain"
	"evalgate/internal/promotion"
	"evalgate/internal/store"
)

// Cycle is the scheduled daily check of strategies in paper trading.
type Cycle struct {
	promoter *promotion.Promoter
	equity   store.PaperEquityStore
	log      *slog.Logger
	now      func() time.Time
}

// NewCycle creates a Cycle. log may be nil.
func NewCycle(p *promotion.Promoter, equity store.PaperEquityStore, log *slog.Logger) *Cycle {
	if log == nil {
		log = slog.Default()
	}
	return &Cycle{
		promoter: p,
		equity:   equity,
		log:      log.With("component", "cycle"),
		now:      time.Now,
	}
}

// RunDaily evaluates every strategy in paper trading against the equity
// it recorded since entering that state. Promoted and retired strategies
// are not touched, so running the cycle twice on the same day only
// refreshes snapshots. A strategy changed concurrently by another writer
// is skipped; other per-strategy errors are joined into the result.
func (c *Cycle) RunDaily(ctx context.Context) ([]promotion.Decision, error) {
	recs, err := c.promoter.List(ctx, domain.StatePaperTesting)
	if err != nil {
		return nil, err
	}
	asOf := c.now().UTC()

	var decisions []promotion.Decision
	var errs []error
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return decisions, err
		}
		snap, err := store.Snapshot(ctx, c.equity, rec.StrategyID, rec.EnteredAt, asOf)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d, err := c.promoter.Evaluate(ctx, rec.StrategyID, snap)
		switch {
		case errors.Is(err, store.ErrStateConflict), errors.Is(err, promotion.ErrInvalidTransition):
			c.log.Info("strategy changed during cycle, skipped", "strategy", rec.StrategyID, "error", err)
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		decisions = append(decisions, d)
	}

	c.log.Info("daily cycle complete", "evaluated", len(decisions), "errors", len(errs))
	return decisions, errors.Join(errs...)
}
