package util

import (
	"time"

	"evalgate/internal/domain"
)

// TradingCalendar answers session questions for daily bars: weekends are
// closed and any configured holiday dates are closed.
type TradingCalendar struct {
	market   domain.Market
	holidays map[string]struct{}
}

// NewTradingCalendar creates a TradingCalendar for the given market. Holidays
// are "2006-01-02" dates.
func NewTradingCalendar(market domain.Market, holidays ...string) *TradingCalendar {
	h := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		h[d] = struct{}{}
	}
	return &TradingCalendar{market: market, holidays: h}
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// IsTradingDay reports whether the session date of t is open.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, closed := tc.holidays[t.Format("2006-01-02")]
	return !closed
}

// NextTradingDay returns the first trading day strictly after t's date.
func (tc *TradingCalendar) NextTradingDay(t time.Time) time.Time {
	d := dateOf(t).AddDate(0, 0, 1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// MissingSessions counts trading days strictly between the dates of a and b.
// Consecutive sessions return 0.
func (tc *TradingCalendar) MissingSessions(a, b time.Time) int {
	start, end := dateOf(a), dateOf(b)
	if !end.After(start) {
		return 0
	}
	n := 0
	for d := start.AddDate(0, 0, 1); d.Before(end); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			n++
		}
	}
	return n
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
