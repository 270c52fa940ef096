package broker

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"evalgate/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(1000)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSimulatorRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(10_000)

	buy, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, LimitPrice: 100})
	if err != nil {
		t.Fatalf("SubmitOrder buy: %v", err)
	}
	if buy.ID == "" || buy.Status != domain.OrderStatusFilled || buy.FilledAvgPrice != 100 {
		t.Errorf("buy = %+v", buy)
	}

	b.MarkPrice("AAPL", 110)
	acct, _ := b.GetAccount(ctx)
	if acct.Cash != 9000 || acct.Equity != 10_100 || acct.LastEquity != 10_000 {
		t.Errorf("account = %+v, want cash 9000 equity 10100 last 10000", acct)
	}
	if got := acct.DailyPnLPct(); math.Abs(got-1) > 1e-9 {
		t.Errorf("DailyPnLPct = %v, want 1", got)
	}
	pos, _ := b.GetPositions(ctx)
	if len(pos) != 1 || pos[0].MarketValue != 1100 || pos[0].AvgEntryPrice != 100 {
		t.Errorf("positions = %+v", pos)
	}

	b.StartSession()
	if _, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 10, LimitPrice: 110}); err != nil {
		t.Fatalf("SubmitOrder sell: %v", err)
	}
	acct, _ = b.GetAccount(ctx)
	if acct.Cash != 10_100 || acct.LastEquity != 10_100 {
		t.Errorf("after sell account = %+v", acct)
	}
	if pos, _ := b.GetPositions(ctx); len(pos) != 0 {
		t.Errorf("positions after close = %+v", pos)
	}
}

func TestSimulatorRejects(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(500)

	o, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, LimitPrice: 100})
	if !errors.Is(err, ErrInsufficientCash) {
		t.Errorf("buy over cash error = %v, want ErrInsufficientCash", err)
	}
	if o == nil || o.Status != domain.OrderStatusRejected {
		t.Errorf("rejected order = %+v", o)
	}
	if _, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 1, LimitPrice: 100}); !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("short sell error = %v, want ErrInsufficientPosition", err)
	}
	if err := b.CancelOrder(ctx, "nope"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("CancelOrder(nope) = %v, want ErrOrderNotFound", err)
	}
	if err := b.CancelOrder(ctx, o.ID); err == nil {
		t.Error("CancelOrder on a rejected order succeeded")
	}
}

type fakeTrading struct {
	placed []alpaca.PlaceOrderRequest
}

func (f *fakeTrading) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = append(f.placed, req)
	px := decimal.NewFromFloat(101.5)
	return &alpaca.Order{ID: "alp-1", Status: "filled", FilledQty: *req.Qty, FilledAvgPrice: &px}, nil
}

func (f *fakeTrading) CancelOrder(string) error { return errors.New("boom") }

func (f *fakeTrading) GetPositions() ([]alpaca.Position, error) {
	mv := decimal.NewFromInt(2030)
	return []alpaca.Position{{Symbol: "AAPL", Qty: decimal.NewFromInt(20), AvgEntryPrice: decimal.NewFromInt(100), MarketValue: &mv, Side: "long"}}, nil
}

func (f *fakeTrading) GetAccount() (*alpaca.Account, error) {
	return &alpaca.Account{
		Equity:      decimal.NewFromInt(100_000),
		LastEquity:  decimal.NewFromInt(98_000),
		Cash:        decimal.NewFromInt(50_000),
		BuyingPower: decimal.NewFromInt(200_000),
	}, nil
}

func TestAlpacaBrokerConversions(t *testing.T) {
	ctx := context.Background()
	fake := &fakeTrading{}
	b := &AlpacaBroker{client: fake}

	o, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 20, LimitPrice: 101})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if o.ID != "alp-1" || o.Status != domain.OrderStatusFilled || o.FilledQty != 20 || o.FilledAvgPrice != 101.5 {
		t.Errorf("order = %+v", o)
	}
	req := fake.placed[0]
	if req.Type != alpaca.Market || req.LimitPrice != nil || req.Side != alpaca.Buy {
		t.Errorf("market request = %+v", req)
	}

	if _, err := b.SubmitOrder(ctx, &domain.Order{Symbol: "AAPL", Side: domain.OrderSideSell, Type: domain.OrderTypeLimit, Qty: 1, LimitPrice: 120}); err != nil {
		t.Fatalf("SubmitOrder limit: %v", err)
	}
	if req := fake.placed[1]; req.Type != alpaca.Limit || req.LimitPrice == nil || !req.LimitPrice.Equal(decimal.NewFromInt(120)) {
		t.Errorf("limit request = %+v", req)
	}

	pos, _ := b.GetPositions(ctx)
	if len(pos) != 1 || pos[0].MarketValue != 2030 || pos[0].Qty != 20 {
		t.Errorf("positions = %+v", pos)
	}
	acct, _ := b.GetAccount(ctx)
	if acct.Equity != 100_000 || acct.LastEquity != 98_000 {
		t.Errorf("account = %+v", acct)
	}
	if err := b.CancelOrder(ctx, "x"); err == nil {
		t.Error("CancelOrder did not surface the client error")
	}
}
