package engine

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"evalgate/internal/broker"
	"evalgate/internal/domain"
	"evalgate/internal/store"
)

var testLimits = RiskLimits{MaxPositionPct: 10, MaxDailyLossPct: 2, MaxSectorConcentrationPct: 25}

func mustGate(t *testing.T) *RiskGate {
	t.Helper()
	g, err := NewRiskGate(testLimits)
	if err != nil {
		t.Fatalf("NewRiskGate: %v", err)
	}
	return g
}

func TestNewRiskGateRejectsBadLimits(t *testing.T) {
	bad := []RiskLimits{
		{},
		{MaxPositionPct: 10, MaxDailyLossPct: 2},
		{MaxPositionPct: -1, MaxDailyLossPct: 2, MaxSectorConcentrationPct: 25},
		{MaxPositionPct: 10, MaxDailyLossPct: math.NaN(), MaxSectorConcentrationPct: 25},
		{MaxPositionPct: 10, MaxDailyLossPct: 2, MaxSectorConcentrationPct: 25, WarnFraction: 1.5},
	}
	for i, l := range bad {
		if _, err := NewRiskGate(l); err == nil {
			t.Errorf("case %d: NewRiskGate(%+v) succeeded", i, l)
		}
	}
	g := mustGate(t)
	if g.Limits().WarnFraction != DefaultWarnFraction {
		t.Errorf("WarnFraction = %v, want default", g.Limits().WarnFraction)
	}
}

func TestRiskGatePositionSizeScenario(t *testing.T) {
	g := mustGate(t)
	// 120 shares at $100 is 12% of $100,000.
	res := g.Check(
		OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 120, Price: 100},
		PortfolioState{Equity: 100_000},
	)
	if res.Approved || res.Reason != ReasonPositionSize {
		t.Fatalf("Check = %+v, want position_size rejection", res)
	}
	if res.Ratios[RatioPosition] != 12 {
		t.Errorf("position ratio = %v, want 12", res.Ratios[RatioPosition])
	}
}

func TestRiskGateCheckOrder(t *testing.T) {
	g := mustGate(t)
	base := PortfolioState{Equity: 100_000}
	buy := func(qty float64) OrderRequest {
		return OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: qty, Price: 100}
	}

	tests := []struct {
		name   string
		req    OrderRequest
		state  PortfolioState
		reason RejectReason
	}{
		{"approved", buy(50), base, ""},
		{"zero qty", buy(0), base, ReasonInvalidOrder},
		{"nan qty", buy(math.NaN()), base, ReasonInvalidOrder},
		{"bad side", OrderRequest{Symbol: "AAPL", Side: "hold", Qty: 1, Price: 100}, base, ReasonInvalidOrder},
		{"zero equity", buy(1), PortfolioState{}, ReasonInvalidOrder},
		{"nan holding", buy(1), PortfolioState{Equity: 100_000, Holdings: []Holding{{Symbol: "X", MarketValue: math.Inf(1)}}}, ReasonInvalidOrder},
		{"existing position grows past limit", buy(50),
			PortfolioState{Equity: 100_000, Holdings: []Holding{{Symbol: "AAPL", MarketValue: 6_000}}}, ReasonPositionSize},
		{"exactly at limit", buy(100), base, ""},
		{"daily loss on buy", buy(10), PortfolioState{Equity: 100_000, DailyPnLPct: -2}, ReasonDailyLoss},
		{"daily loss allows sell",
			OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 10, Price: 100},
			PortfolioState{Equity: 100_000, DailyPnLPct: -5, Holdings: []Holding{{Symbol: "AAPL", MarketValue: 5_000}}}, ""},
		{"sector concentration", buy(80),
			PortfolioState{Equity: 100_000, Sectors: map[string]string{"AAPL": "tech", "MSFT": "tech", "NVDA": "tech"},
				Holdings: []Holding{{Symbol: "MSFT", MarketValue: 9_000}, {Symbol: "NVDA", MarketValue: 9_000}}},
			ReasonSectorConcentration},
		{"unmapped symbol is its own sector", buy(80),
			PortfolioState{Equity: 100_000, Sectors: map[string]string{"MSFT": "tech", "NVDA": "tech"},
				Holdings: []Holding{{Symbol: "MSFT", MarketValue: 9_000}, {Symbol: "NVDA", MarketValue: 9_000}}}, ""},
		{"reducing an oversized position", OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 10, Price: 100},
			PortfolioState{Equity: 100_000, Holdings: []Holding{{Symbol: "AAPL", MarketValue: 15_000}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Check(tt.req, tt.state)
			if tt.reason == "" {
				if !res.Approved {
					t.Errorf("Check = %+v, want approved", res)
				}
				return
			}
			if res.Approved || res.Reason != tt.reason {
				t.Errorf("Check = %+v, want %s", res, tt.reason)
			}
			if res.Message == "" {
				t.Error("rejection without message")
			}
		})
	}
}

func TestRiskGateReducingOrders(t *testing.T) {
	g := mustGate(t)
	sell := func(qty float64) OrderRequest {
		return OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: qty, Price: 100}
	}
	// AAPL has drifted to 15% of equity and tech to 30%.
	state := PortfolioState{
		Equity:  100_000,
		Sectors: map[string]string{"AAPL": "tech", "MSFT": "tech"},
		Holdings: []Holding{
			{Symbol: "AAPL", MarketValue: 15_000},
			{Symbol: "MSFT", MarketValue: 15_000},
		},
	}

	// Selling part of the oversized position stays above both limits but
	// shrinks them, so it is approved.
	res := g.Check(sell(20), state)
	if !res.Approved {
		t.Fatalf("Check(partial sell) = %+v, want approved", res)
	}
	if got := res.Ratios[RatioPosition]; got != 13 {
		t.Errorf("position ratio = %v, want 13", got)
	}
	if got := res.Ratios[RatioSector]; got != 28 {
		t.Errorf("sector ratio = %v, want 28", got)
	}
	if len(g.Violations(state)) == 0 {
		t.Error("Violations = none, want the breach the sell reduces")
	}

	// Selling through zero into a short larger than the long is growth.
	res = g.Check(sell(400), state)
	if res.Approved || res.Reason != ReasonPositionSize {
		t.Errorf("Check(flip to short) = %+v, want position_size", res)
	}
}

func TestRiskGateCheckOrderPrecedence(t *testing.T) {
	g := mustGate(t)
	// Breaches size, daily loss and sector at once: size wins.
	res := g.Check(
		OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 300, Price: 100},
		PortfolioState{Equity: 100_000, DailyPnLPct: -3},
	)
	if res.Reason != ReasonPositionSize {
		t.Errorf("Reason = %s, want position_size", res.Reason)
	}
}

func TestRiskGateWarnings(t *testing.T) {
	g := mustGate(t)
	// 9% position is above 80% of the 10% limit; 1.7% loss above 80% of 2%.
	res := g.Check(
		OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 90, Price: 100},
		PortfolioState{Equity: 100_000, DailyPnLPct: -1.7},
	)
	if !res.Approved {
		t.Fatalf("Check = %+v, want approved", res)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("Warnings = %v, want position and daily loss", res.Warnings)
	}
	if !strings.HasPrefix(res.Warnings[0], "position") || !strings.HasPrefix(res.Warnings[1], "daily loss") {
		t.Errorf("Warnings = %v", res.Warnings)
	}

	quiet := g.Check(
		OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, Price: 100},
		PortfolioState{Equity: 100_000},
	)
	if len(quiet.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", quiet.Warnings)
	}
}

// memPromotions is a read-only promotion source for engine tests.
type memPromotions map[string]domain.PromotionState

func (m memPromotions) GetPromotion(_ context.Context, id string) (*domain.PromotionRecord, error) {
	st, ok := m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.PromotionRecord{StrategyID: id, State: st}, nil
}

func TestRiskGateViolations(t *testing.T) {
	g := mustGate(t)
	sectors := map[string]string{"AAPL": "tech", "MSFT": "tech"}
	tests := []struct {
		name string
		p    PortfolioState
		want []RejectReason
	}{
		{"clean", PortfolioState{Equity: 10_000, Holdings: []Holding{{"AAPL", 800}}}, nil},
		{"daily loss", PortfolioState{Equity: 10_000, DailyPnLPct: -2}, []RejectReason{ReasonDailyLoss}},
		{"position drifted up", PortfolioState{Equity: 10_000, Holdings: []Holding{{"AAPL", 1_100}}}, []RejectReason{ReasonPositionSize}},
		{"sector", PortfolioState{Equity: 10_000, Sectors: sectors, Holdings: []Holding{{"AAPL", 900}, {"MSFT", 900}, {"GOOG", 900}, {"AAPL", 800}}},
			[]RejectReason{ReasonPositionSize, ReasonSectorConcentration}},
		{"no equity", PortfolioState{}, []RejectReason{ReasonInvalidOrder}},
	}
	for _, tt := range tests {
		got := g.Violations(tt.p)
		if len(got) != len(tt.want) {
			t.Errorf("%s: Violations = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: Violations = %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}
}

func TestNewEngine(t *testing.T) {
	e := NewEngine(broker.NewSimulatorBroker(1), mustGate(t), memPromotions{}, nil, nil, nil)
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
}

func TestEngineEligibility(t *testing.T) {
	ctx := context.Background()
	promos := memPromotions{
		"paper":   domain.StatePaperTesting,
		"live":    domain.StatePromoted,
		"cand":    domain.StateCandidate,
		"retired": domain.StateRetired,
	}
	sim := NewEngine(broker.NewSimulatorBroker(100_000), mustGate(t), promos, nil, nil, nil)
	alp := NewEngine(broker.NewAlpacaBroker("k", "s", "http://127.0.0.1:0"), mustGate(t), promos, nil, nil, nil)

	tests := []struct {
		e    *Engine
		id   string
		want bool
	}{
		{sim, "paper", true},
		{sim, "live", true},
		{sim, "cand", false},
		{sim, "retired", false},
		{sim, "unknown", false},
		{alp, "paper", false},
		{alp, "live", true},
	}
	for _, tt := range tests {
		got, err := tt.e.Eligible(ctx, tt.id)
		if err != nil || got != tt.want {
			t.Errorf("%s Eligible(%s) = %v, %v; want %v", tt.e.broker.Name(), tt.id, got, err, tt.want)
		}
	}

	_, err := sim.SubmitOrder(ctx, OrderRequest{StrategyID: "cand", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1, Price: 100})
	if !errors.Is(err, ErrNotEligible) {
		t.Errorf("SubmitOrder(candidate) error = %v, want ErrNotEligible", err)
	}
}

func TestEngineSubmitOrder(t *testing.T) {
	ctx := context.Background()
	sim := broker.NewSimulatorBroker(100_000)
	e := NewEngine(sim, mustGate(t), memPromotions{"s": domain.StatePaperTesting}, nil, nil, nil)

	sub, err := e.SubmitOrder(ctx, OrderRequest{StrategyID: "s", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 120, Price: 100})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if sub.Order != nil || sub.Risk.Reason != ReasonPositionSize {
		t.Errorf("oversized submission = %+v", sub)
	}

	sub, err = e.SubmitOrder(ctx, OrderRequest{StrategyID: "s", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 50, Price: 100})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if sub.Order == nil || sub.Order.Status != domain.OrderStatusFilled || sub.Order.StrategyID != "s" {
		t.Fatalf("submission = %+v", sub)
	}

	// The filled position now counts toward the next check.
	state, err := e.Portfolio(ctx)
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if len(state.Holdings) != 1 || state.Holdings[0].MarketValue != 5_000 {
		t.Errorf("holdings = %+v", state.Holdings)
	}
	sub, _ = e.SubmitOrder(ctx, OrderRequest{StrategyID: "s", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 60, Price: 100})
	if sub.Order != nil || sub.Risk.Reason != ReasonPositionSize {
		t.Errorf("second buy = %+v, want position_size", sub)
	}
}
