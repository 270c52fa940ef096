// Package marketdata supplies the OHLCV history the backtester consumes and
// the listing status the auditor's survivorship check needs.
package marketdata

import (
	"context"
	"errors"
	"time"

	"evalgate/internal/domain"
)

// ErrNoData is returned when no bars exist for the requested range.
var ErrNoData = errors.New("no bars for range")

// Provider yields daily bars for one symbol within [start, end], oldest
// first, timestamps in UTC.
type Provider interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
