package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/sony/gobreaker"

	"evalgate/internal/domain"
	"evalgate/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// barsClient is the subset of *marketdata.Client the provider uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

var _ barsClient = (*marketdata.Client)(nil)

const (
	fetchAttempts  = 3
	fetchBaseDelay = 500 * time.Millisecond
)

// AlpacaProvider fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API. Calls are rate limited, retried with backoff, and
// short-circuited by a breaker after repeated failures.
type AlpacaProvider struct {
	client  barsClient
	limiter *util.RateLimiter
	breaker *gobreaker.CircuitBreaker
	feed    string
	log     *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider. dataURL and feed may be
// empty to use the client defaults.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string, rateLimitPerMin int) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), feed, util.NewRateLimiter(rateLimitPerMin))
}

func newAlpacaProvider(client barsClient, feed string, limiter *util.RateLimiter) *AlpacaProvider {
	log := slog.Default().With("component", "marketdata", "provider", "alpaca")
	return &AlpacaProvider{
		client:  client,
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "alpaca-bars",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		feed: feed,
		log:  log,
	}
}

// Bars fetches daily bars for symbol within [start, end].
func (p *AlpacaProvider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	req := marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end,
		Adjustment: marketdata.All,
	}
	if p.feed != "" {
		req.Feed = marketdata.Feed(p.feed)
	}

	var raw []marketdata.Bar
	err := util.Retry(ctx, fetchAttempts, fetchBaseDelay, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		out, err := p.breaker.Execute(func() (interface{}, error) {
			return p.client.GetBars(symbol, req)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return util.Permanent(err)
		}
		if err != nil {
			p.log.Debug("bars fetch failed", "symbol", symbol, "error", err)
			return err
		}
		raw = out.([]marketdata.Bar)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s %s..%s: %w", symbol, start.Format(time.DateOnly), end.Format(time.DateOnly), ErrNoData)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}
