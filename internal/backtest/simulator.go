package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"evalgate/internal/domain"
	"evalgate/internal/strategy"
)

// Exit reasons recorded on a Trade.
const (
	ExitSignal    = "signal"
	ExitWindowEnd = "window_end"
)

// errSimulation marks a failure that aborts only the current window.
var errSimulation = errors.New("simulation aborted")

// Trade is one closed round trip. Commission is the sum of the entry and
// exit charges and is already deducted from PnL.
type Trade struct {
	Window         int       `json:"window"`
	Symbol         string    `json:"symbol"`
	SignalDate     time.Time `json:"signal_date"`
	EntryDate      time.Time `json:"entry_date"`
	EntryPrice     float64   `json:"entry_price"`
	ExitSignalDate time.Time `json:"exit_signal_date"`
	ExitDate       time.Time `json:"exit_date"`
	ExitPrice      float64   `json:"exit_price"`
	Qty            float64   `json:"qty"`
	Commission     float64   `json:"commission"`
	PnL            float64   `json:"pnl"`
	ExitReason     string    `json:"exit_reason"`
}

// EquityPoint is the account value at a bar's close.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// simResult is the outcome of simulating one slice.
type simResult struct {
	trades  []Trade
	equity  []EquityPoint
	capital float64
	ending  float64
}

// position is the open long position, if any.
type position struct {
	qty        float64
	entryPrice float64
	entryFee   float64
	signalDate time.Time
	entryDate  time.Time
}

// simulate replays bars[from:hi] through strat starting with capital. For
// each bar it fills any pending order at the open, asks the strategy for a
// signal with a view over bars[lo:t+1], and records equity at the close.
// An open position on the final bar is closed at that bar's close. Bars in
// [lo,from) are history only: nothing trades or is recorded there.
//
// Strategy errors, panics, invalid signal types and non-finite signal
// strength return an error wrapping errSimulation.
func simulate(ctx context.Context, strat strategy.Strategy, bars []domain.Bar, lo, from, hi, window int,
	capital float64, cfg Config) (res simResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: strategy panic: %v", errSimulation, r)
		}
	}()

	if err := strat.Init(ctx); err != nil {
		return simResult{}, fmt.Errorf("%w: init: %v", errSimulation, err)
	}

	slip := cfg.SlippagePct / 100
	fee := cfg.CommissionPerTrade
	cash := capital
	var pos *position
	var pending domain.SignalType
	var pendingDate time.Time

	res = simResult{capital: capital, equity: make([]EquityPoint, 0, hi-from)}
	closePos := func(exitPrice float64, at, signalAt time.Time, reason string) {
		cash += pos.qty*exitPrice - fee
		res.trades = append(res.trades, Trade{
			Window:         window,
			Symbol:         bars[lo].Symbol,
			SignalDate:     pos.signalDate,
			EntryDate:      pos.entryDate,
			EntryPrice:     pos.entryPrice,
			ExitSignalDate: signalAt,
			ExitDate:       at,
			ExitPrice:      exitPrice,
			Qty:            pos.qty,
			Commission:     pos.entryFee + fee,
			PnL:            pos.qty*(exitPrice-pos.entryPrice) - pos.entryFee - fee,
			ExitReason:     reason,
		})
		pos = nil
	}

	last := hi - 1
	for t := from; t < hi; t++ {
		bar := bars[t]

		// Fill the order decided on the previous bar.
		switch pending {
		case domain.SignalTypeBuy:
			fill := bar.Open * (1 + slip)
			if qty := (cash - fee) / fill; qty > 0 && fill > 0 {
				pos = &position{
					qty:        qty,
					entryPrice: fill,
					entryFee:   fee,
					signalDate: pendingDate,
					entryDate:  bar.Timestamp,
				}
				cash -= qty*fill + fee
			}
		case domain.SignalTypeSell:
			closePos(bar.Open*(1-slip), bar.Timestamp, pendingDate, ExitSignal)
		}
		pending = ""

		sig, err := strat.OnBar(ctx, strategy.NewView(bars, lo, t))
		if err != nil {
			return simResult{}, fmt.Errorf("%w: bar %s: %v", errSimulation, bar.Timestamp.Format(time.DateOnly), err)
		}
		if !sig.Type.Valid() {
			return simResult{}, fmt.Errorf("%w: bar %s: unknown signal type %q", errSimulation, bar.Timestamp.Format(time.DateOnly), sig.Type)
		}
		if math.IsNaN(sig.Strength) || math.IsInf(sig.Strength, 0) {
			return simResult{}, fmt.Errorf("%w: bar %s: non-finite signal strength", errSimulation, bar.Timestamp.Format(time.DateOnly))
		}

		if t < last {
			switch {
			case sig.Type == domain.SignalTypeBuy && pos == nil:
				pending, pendingDate = domain.SignalTypeBuy, bar.Timestamp
			case sig.Type == domain.SignalTypeSell && pos != nil:
				pending, pendingDate = domain.SignalTypeSell, bar.Timestamp
			}
		} else if pos != nil {
			closePos(bar.Close*(1-slip), bar.Timestamp, bar.Timestamp, ExitWindowEnd)
		}

		value := cash
		if pos != nil {
			value += pos.qty * bar.Close
		}
		res.equity = append(res.equity, EquityPoint{Timestamp: bar.Timestamp, Value: value})
	}

	res.ending = cash
	return res, nil
}

// flatResult is the cash-only curve used for a skipped window.
func flatResult(bars []domain.Bar, lo, hi int, capital float64) simResult {
	res := simResult{capital: capital, ending: capital, equity: make([]EquityPoint, 0, hi-lo)}
	for t := lo; t < hi; t++ {
		res.equity = append(res.equity, EquityPoint{Timestamp: bars[t].Timestamp, Value: capital})
	}
	return res
}
