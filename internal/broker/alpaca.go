package broker

import (
	"context"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"evalgate/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// tradingClient is the subset of *alpaca.Client the broker uses.
type tradingClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetPositions() ([]alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

var _ tradingClient = (*alpaca.Client)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client tradingClient
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return AlpacaName
}

// SubmitOrder places a day order. LimitPrice is only sent for limit orders.
func (b *AlpacaBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	qty := decimal.NewFromFloat(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: order.ID,
	}
	if order.Type == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(order.LimitPrice)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("alpaca PlaceOrder: %w", err)
	}
	out := *order
	out.ID = placed.ID
	out.Status = orderStatus(string(placed.Status))
	out.FilledQty = placed.FilledQty.InexactFloat64()
	if placed.FilledAvgPrice != nil {
		out.FilledAvgPrice = placed.FilledAvgPrice.InexactFloat64()
	}
	out.CreatedAt = placed.CreatedAt
	out.UpdatedAt = placed.UpdatedAt
	return &out, nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca CancelOrder %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetPositions: %w", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		pos := domain.Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
			Side:          domain.PositionSideLong,
		}
		if p.MarketValue != nil {
			pos.MarketValue = p.MarketValue.InexactFloat64()
		}
		if strings.EqualFold(p.Side, string(domain.PositionSideShort)) {
			pos.Side = domain.PositionSideShort
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca GetAccount: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		LastEquity:  acct.LastEquity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// orderStatus maps Alpaca's status strings onto the domain lifecycle.
func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	}
	return domain.OrderStatusNew
}
