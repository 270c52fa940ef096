package domain

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	// Verify Order can be instantiated with zero values.
	order := Order{}
	if order.ID != "" || order.Side != "" || order.Type != "" || order.Status != "" {
		t.Error("expected empty identifiers for zero-value Order")
	}
	if order.Qty != 0 || order.FilledQty != 0 || order.FilledAvgPrice != 0 {
		t.Error("expected zero Qty/FilledQty/FilledAvgPrice for zero-value Order")
	}

	// Verify enum constants are defined correctly.
	if OrderSideBuy != "buy" {
		t.Errorf("OrderSideBuy = %q, want %q", OrderSideBuy, "buy")
	}
	if MarketUS != "us" || MarketCN != "cn" {
		t.Error("Market constants have unexpected values")
	}

	now := time.Now()
	signal := Signal{
		StrategyID: "momentum_v1",
		Symbol:     "AAPL",
		Type:       SignalTypeBuy,
		Strength:   0.85,
		Metadata:   map[string]string{"reason": "breakout"},
		CreatedAt:  now,
	}
	if signal.StrategyID != "momentum_v1" {
		t.Errorf("signal.StrategyID = %q, want %q", signal.StrategyID, "momentum_v1")
	}
}

func TestSignalTypeValid(t *testing.T) {
	for _, st := range []SignalType{"", SignalTypeFlat, SignalTypeBuy, SignalTypeSell} {
		if !st.Valid() {
			t.Errorf("SignalType(%q).Valid() = false, want true", st)
		}
	}
	if SignalType("hold").Valid() {
		t.Error(`SignalType("hold").Valid() = true, want false`)
	}
	if OrderSide("short").Valid() {
		t.Error(`OrderSide("short").Valid() = true, want false`)
	}
}

func TestDailyPnLPct(t *testing.T) {
	a := AccountInfo{Equity: 97000, LastEquity: 100000}
	if got := a.DailyPnLPct(); math.Abs(got-(-3)) > 1e-9 {
		t.Errorf("DailyPnLPct() = %v, want -3", got)
	}
	if got := (AccountInfo{Equity: 5}).DailyPnLPct(); got != 0 {
		t.Errorf("DailyPnLPct() with no LastEquity = %v, want 0", got)
	}
}

func TestFindingString(t *testing.T) {
	f := Finding{Severity: SeverityCritical, Category: CategoryLookAhead, Message: "forward index", Evidence: "line 3"}
	s := f.String()
	if !strings.Contains(s, "critical/look_ahead") || !strings.Contains(s, "line 3") {
		t.Errorf("Finding.String() = %q", s)
	}
	if !StateRetired.Terminal() || StatePromoted.Terminal() {
		t.Error("only retired should be terminal")
	}
}
