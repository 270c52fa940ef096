// Package domain holds the value types shared across the evaluation,
// promotion, and order-flow packages.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV bar for a symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// SignalType is the action a strategy asks for on a bar.
type SignalType string

const (
	SignalTypeFlat SignalType = "flat"
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
)

// Valid reports whether t is one of the known signal types. The empty
// string is treated as flat.
func (t SignalType) Valid() bool {
	switch t {
	case "", SignalTypeFlat, SignalTypeBuy, SignalTypeSell:
		return true
	}
	return false
}

// Signal is a strategy's decision for a single bar. Strength carries the
// indicator value behind the decision; NaN or Inf marks it undefined.
type Signal struct {
	ID         int64
	StrategyID string
	Symbol     string
	Type       SignalType
	Strength   float64
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Flat returns a no-action signal.
func Flat() Signal { return Signal{Type: SignalTypeFlat} }

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a request sent to a broker and its execution state.
type Order struct {
	ID             string
	StrategyID     string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Qty            float64
	LimitPrice     float64
	FilledQty      float64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PositionSide is long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a holding in one symbol.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
	MarketValue   float64
	Side          PositionSide
}

// AccountInfo is a snapshot of account balances. LastEquity is the equity
// at the previous session close and is used to derive daily P&L.
type AccountInfo struct {
	Equity      float64
	LastEquity  float64
	Cash        float64
	BuyingPower float64
}

// DailyPnLPct returns the day's P&L as a percentage of LastEquity.
func (a AccountInfo) DailyPnLPct() float64 {
	if a.LastEquity <= 0 {
		return 0
	}
	return (a.Equity - a.LastEquity) / a.LastEquity * 100
}
