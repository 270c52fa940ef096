package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalgate/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading. Orders
// fill immediately and in full at their LimitPrice, which callers set to the
// reference price for market orders. Positions are long-only.
type SimulatorBroker struct {
	mu         sync.Mutex
	cash       float64
	lastEquity float64
	positions  map[string]*domain.Position
	prices     map[string]float64
	orders     map[string]*domain.Order
}

// NewSimulatorBroker creates a SimulatorBroker holding the given cash.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:       cash,
		lastEquity: cash,
		positions:  make(map[string]*domain.Position),
		prices:     make(map[string]float64),
		orders:     make(map[string]*domain.Order),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return SimulatorName
}

// SubmitOrder fills the order against simulated cash and positions. An order
// that cannot be filled is stored as rejected and returned with an error.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.UpdatedAt = time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = o.UpdatedAt
	}

	fail := func(err error) (*domain.Order, error) {
		o.Status = domain.OrderStatusRejected
		b.orders[o.ID] = &o
		out := o
		return &out, fmt.Errorf("simulator %s %s: %w", o.Side, o.Symbol, err)
	}

	price := o.LimitPrice
	if !(o.Qty > 0) || !(price > 0) || !o.Side.Valid() {
		return fail(fmt.Errorf("invalid order qty=%v price=%v side=%q", o.Qty, price, o.Side))
	}
	cost := o.Qty * price
	pos := b.positions[o.Symbol]

	switch o.Side {
	case domain.OrderSideBuy:
		if cost > b.cash+1e-9 {
			return fail(ErrInsufficientCash)
		}
		b.cash -= cost
		if pos == nil {
			pos = &domain.Position{Symbol: o.Symbol, Side: domain.PositionSideLong}
			b.positions[o.Symbol] = pos
		}
		pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Qty + cost) / (pos.Qty + o.Qty)
		pos.Qty += o.Qty
	case domain.OrderSideSell:
		if pos == nil || o.Qty > pos.Qty+1e-9 {
			return fail(ErrInsufficientPosition)
		}
		b.cash += cost
		pos.Qty -= o.Qty
		if pos.Qty <= 1e-9 {
			delete(b.positions, o.Symbol)
		}
	}
	b.prices[o.Symbol] = price

	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	b.orders[o.ID] = &o
	out := o
	return &out, nil
}

// CancelOrder cancels a stored order. Filled orders cannot be cancelled in
// the simulator since every fill is immediate.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrOrderNotFound)
	}
	if o.Status != domain.OrderStatusNew {
		return fmt.Errorf("cancel %s: order is %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkPrice updates the price used to value a symbol's position.
func (b *SimulatorBroker) MarkPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if price > 0 {
		b.prices[symbol] = price
	}
}

// StartSession records the current equity as the previous close, which
// resets the daily P&L.
func (b *SimulatorBroker) StartSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastEquity = b.equityLocked()
}

// GetPositions returns all simulated positions marked at the latest price,
// sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for sym, p := range b.positions {
		cp := *p
		cp.MarketValue = cp.Qty * b.priceLocked(sym, cp.AvgEntryPrice)
		positions = append(positions, cp)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns cash, marked equity and the previous session's equity.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.AccountInfo{
		Equity:      b.equityLocked(),
		LastEquity:  b.lastEquity,
		Cash:        b.cash,
		BuyingPower: b.cash,
	}, nil
}

func (b *SimulatorBroker) equityLocked() float64 {
	eq := b.cash
	for sym, p := range b.positions {
		eq += p.Qty * b.priceLocked(sym, p.AvgEntryPrice)
	}
	return eq
}

func (b *SimulatorBroker) priceLocked(symbol string, fallback float64) float64 {
	if px, ok := b.prices[symbol]; ok {
		return px
	}
	return fallback
}
