package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"evalgate/internal/domain"
	"evalgate/internal/store"
	"evalgate/internal/util"
)

// Compile-time interface check.
var _ Provider = (*CachedProvider)(nil)

// headSlack is how far the first cached bar may start after the requested
// start and still count as covered. Upstream history does not grow
// backwards, so a short head is a listing date or a holiday, not staleness.
const headSlack = 4 * 24 * time.Hour

// CachedProvider reads bars from the Parquet store and falls through to
// an upstream provider when the store does not cover the request, writing
// the fetched bars back. A nil upstream makes it read-only.
type CachedProvider struct {
	bars     store.BarStore
	upstream Provider
	market   string
	cal      *util.TradingCalendar
	log      *slog.Logger
}

// NewCachedProvider creates a read-through cache over bars for the US
// market.
func NewCachedProvider(bars store.BarStore, upstream Provider) *CachedProvider {
	return &CachedProvider{
		bars:     bars,
		upstream: upstream,
		market:   string(domain.MarketUS),
		cal:      util.NewTradingCalendar(domain.MarketUS),
		log:      slog.Default().With("component", "marketdata", "provider", "cache"),
	}
}

// WithCalendar sets the sessions used to decide whether the cache is
// current. It returns c.
func (c *CachedProvider) WithCalendar(cal *util.TradingCalendar) *CachedProvider {
	if cal != nil {
		c.cal = cal
	}
	return c
}

// Bars returns cached bars when they cover [start, end], otherwise fetches
// from upstream and caches the result.
func (c *CachedProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	cached, err := c.bars.ReadBars(ctx, symbol, c.market, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading cached bars for %s: %w", symbol, err)
	}
	if c.covers(cached, start, end) || c.upstream == nil {
		if len(cached) == 0 {
			return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
		return cached, nil
	}

	fetched, err := c.upstream.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.bars.WriteBars(ctx, fetched); err != nil {
		c.log.Warn("caching bars failed", "symbol", symbol, "error", err)
	}
	c.log.Debug("bars fetched", "symbol", symbol, "cached", len(cached), "fetched", len(fetched))
	return fetched, nil
}

// covers reports whether bars reach start within headSlack and miss no
// trading session after the last bar up to and including end's date.
func (c *CachedProvider) covers(bars []domain.Bar, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	if first.After(start.Add(headSlack)) {
		return false
	}
	return c.cal.MissingSessions(last, end.AddDate(0, 0, 1)) == 0
}
