package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"evalgate/internal/domain"
)

// DefaultWarnFraction is the share of a limit above which a ratio is
// reported as a warning.
const DefaultWarnFraction = 0.8

// RejectReason names the check that vetoed an order.
type RejectReason string

const (
	ReasonInvalidOrder        RejectReason = "invalid_order"
	ReasonPositionSize        RejectReason = "position_size"
	ReasonDailyLoss           RejectReason = "daily_loss"
	ReasonSectorConcentration RejectReason = "sector_concentration"
)

// Ratio keys reported in RiskCheckResult.Ratios, all in percent.
const (
	RatioPosition = "position_pct"
	RatioDailyPnL = "daily_pnl_pct"
	RatioSector   = "sector_pct"
)

// RiskLimits are the hard limits, in percent of equity. They are built
// once at startup and never mutated.
type RiskLimits struct {
	MaxPositionPct            float64
	MaxDailyLossPct           float64
	MaxSectorConcentrationPct float64
	WarnFraction              float64 // zero means DefaultWarnFraction
}

// Validate requires every limit to be positive and finite.
func (l RiskLimits) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s %v must be positive", name, v))
		}
	}
	check("max position pct", l.MaxPositionPct)
	check("max daily loss pct", l.MaxDailyLossPct)
	check("max sector concentration pct", l.MaxSectorConcentrationPct)
	if l.WarnFraction < 0 || l.WarnFraction > 1 {
		errs = append(errs, fmt.Errorf("warn fraction %v must be within [0, 1]", l.WarnFraction))
	}
	return errors.Join(errs...)
}

// OrderRequest is a proposed order. Price is the reference price used to
// value it.
type OrderRequest struct {
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Side       domain.OrderSide `json:"side"`
	Qty        float64          `json:"qty"`
	Price      float64          `json:"price"`
}

// Holding is the current market value of one symbol.
type Holding struct {
	Symbol      string  `json:"symbol"`
	MarketValue float64 `json:"market_value"`
}

// PortfolioState is the account as seen when an order is proposed.
// Sectors maps symbols to sectors; an unmapped symbol forms its own sector.
type PortfolioState struct {
	Equity      float64           `json:"equity"`
	DailyPnLPct float64           `json:"daily_pnl_pct"`
	Holdings    []Holding         `json:"holdings"`
	Sectors     map[string]string `json:"sectors,omitempty"`
}

// RiskCheckResult is the verdict on one order. Rejections are data, not
// errors. Warnings never block.
type RiskCheckResult struct {
	Approved bool               `json:"approved"`
	Reason   RejectReason       `json:"reason,omitempty"`
	Message  string             `json:"message,omitempty"`
	Ratios   map[string]float64 `json:"ratios,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// RiskGate vetoes orders that breach the hard limits.
type RiskGate struct {
	limits RiskLimits
}

// NewRiskGate validates limits and returns a gate over them.
func NewRiskGate(limits RiskLimits) (*RiskGate, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	if limits.WarnFraction == 0 {
		limits.WarnFraction = DefaultWarnFraction
	}
	return &RiskGate{limits: limits}, nil
}

// Limits returns the frozen limits.
func (g *RiskGate) Limits() RiskLimits { return g.limits }

var hundred = decimal.NewFromInt(100)

// Check runs the checks in order and stops at the first failure:
// order validity, resulting position size, daily loss (buys only), then
// resulting sector concentration. Orders that shrink an existing exposure
// are not rejected by the size or concentration checks.
func (g *RiskGate) Check(req OrderRequest, p PortfolioState) RiskCheckResult {
	res := RiskCheckResult{Ratios: make(map[string]float64)}
	reject := func(reason RejectReason, format string, args ...any) RiskCheckResult {
		res.Approved = false
		res.Reason = reason
		res.Message = fmt.Sprintf(format, args...)
		return res
	}

	// 1. Validity.
	switch {
	case !req.Side.Valid():
		return reject(ReasonInvalidOrder, "unknown side %q", req.Side)
	case !positiveFinite(req.Qty):
		return reject(ReasonInvalidOrder, "quantity %v must be positive", req.Qty)
	case !positiveFinite(req.Price):
		return reject(ReasonInvalidOrder, "price %v must be positive", req.Price)
	case !positiveFinite(p.Equity):
		return reject(ReasonInvalidOrder, "equity %v must be positive", p.Equity)
	case math.IsNaN(p.DailyPnLPct) || math.IsInf(p.DailyPnLPct, 0):
		return reject(ReasonInvalidOrder, "daily pnl %v is not finite", p.DailyPnLPct)
	}
	for _, h := range p.Holdings {
		if math.IsNaN(h.MarketValue) || math.IsInf(h.MarketValue, 0) {
			return reject(ReasonInvalidOrder, "holding %s has non-finite value %v", h.Symbol, h.MarketValue)
		}
	}

	equity := decimal.NewFromFloat(p.Equity)
	notional := decimal.NewFromFloat(req.Qty).Mul(decimal.NewFromFloat(req.Price))
	if req.Side == domain.OrderSideSell {
		notional = notional.Neg()
	}
	pct := func(v decimal.Decimal) decimal.Decimal { return v.Abs().Div(equity).Mul(hundred) }

	// 2. Position size.
	current := decimal.Zero
	for _, h := range p.Holdings {
		if h.Symbol == req.Symbol {
			current = current.Add(decimal.NewFromFloat(h.MarketValue))
		}
	}
	resulting := current.Add(notional)
	posPct := pct(resulting)
	res.Ratios[RatioPosition] = posPct.InexactFloat64()
	growing := resulting.Abs().GreaterThan(current.Abs())
	maxPos := decimal.NewFromFloat(g.limits.MaxPositionPct)
	if growing && posPct.GreaterThan(maxPos) {
		return reject(ReasonPositionSize, "position in %s would be %s%% of equity, limit %s%%",
			req.Symbol, posPct.StringFixed(2), maxPos.String())
	}
	g.warn(&res, "position", posPct, g.limits.MaxPositionPct)

	// 3. Daily loss.
	res.Ratios[RatioDailyPnL] = p.DailyPnLPct
	loss := decimal.NewFromFloat(p.DailyPnLPct).Neg()
	maxLoss := decimal.NewFromFloat(g.limits.MaxDailyLossPct)
	if req.Side == domain.OrderSideBuy && loss.GreaterThanOrEqual(maxLoss) {
		return reject(ReasonDailyLoss, "daily loss %s%% has reached the %s%% limit",
			loss.StringFixed(2), maxLoss.String())
	}
	g.warn(&res, "daily loss", loss, g.limits.MaxDailyLossPct)

	// 4. Sector concentration.
	sector := sectorOf(p.Sectors, req.Symbol)
	sectorCurrent := decimal.Zero
	for _, h := range p.Holdings {
		if sectorOf(p.Sectors, h.Symbol) == sector && h.Symbol != req.Symbol {
			sectorCurrent = sectorCurrent.Add(decimal.NewFromFloat(h.MarketValue).Abs())
		}
	}
	sectorPct := pct(sectorCurrent.Add(resulting.Abs()))
	res.Ratios[RatioSector] = sectorPct.InexactFloat64()
	maxSector := decimal.NewFromFloat(g.limits.MaxSectorConcentrationPct)
	if growing && sectorPct.GreaterThan(maxSector) {
		return reject(ReasonSectorConcentration, "sector %s would be %s%% of equity, limit %s%%",
			sector, sectorPct.StringFixed(2), maxSector.String())
	}
	g.warn(&res, "sector "+sector, sectorPct, g.limits.MaxSectorConcentrationPct)

	res.Approved = true
	return res
}

// Violations reports the limits the portfolio itself currently breaches,
// independent of any order: a daily loss at or beyond its limit, or a
// position or sector above its limit. Prices that move after an order was
// approved can produce these.
func (g *RiskGate) Violations(p PortfolioState) []RejectReason {
	if !positiveFinite(p.Equity) {
		return []RejectReason{ReasonInvalidOrder}
	}
	equity := decimal.NewFromFloat(p.Equity)
	pct := func(v decimal.Decimal) decimal.Decimal { return v.Abs().Div(equity).Mul(hundred) }

	var out []RejectReason
	if decimal.NewFromFloat(p.DailyPnLPct).Neg().GreaterThanOrEqual(decimal.NewFromFloat(g.limits.MaxDailyLossPct)) {
		out = append(out, ReasonDailyLoss)
	}

	maxPos := decimal.NewFromFloat(g.limits.MaxPositionPct)
	bySymbol := make(map[string]decimal.Decimal)
	bySector := make(map[string]decimal.Decimal)
	for _, h := range p.Holdings {
		v := decimal.NewFromFloat(h.MarketValue)
		bySymbol[h.Symbol] = bySymbol[h.Symbol].Add(v)
		sector := sectorOf(p.Sectors, h.Symbol)
		bySector[sector] = bySector[sector].Add(v.Abs())
	}
	for _, v := range bySymbol {
		if pct(v).GreaterThan(maxPos) {
			out = append(out, ReasonPositionSize)
			break
		}
	}
	maxSector := decimal.NewFromFloat(g.limits.MaxSectorConcentrationPct)
	for _, v := range bySector {
		if pct(v).GreaterThan(maxSector) {
			out = append(out, ReasonSectorConcentration)
			break
		}
	}
	return out
}

// warn notes a ratio above the warning share of its limit.
func (g *RiskGate) warn(res *RiskCheckResult, what string, v decimal.Decimal, limit float64) {
	threshold := decimal.NewFromFloat(limit).Mul(decimal.NewFromFloat(g.limits.WarnFraction))
	if v.GreaterThan(threshold) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s at %s%% is above %s%% of the %v%% limit",
			what, v.StringFixed(2), decimal.NewFromFloat(g.limits.WarnFraction*100).String(), limit))
	}
}

func sectorOf(sectors map[string]string, symbol string) string {
	if s, ok := sectors[symbol]; ok && s != "" {
		return s
	}
	return symbol
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
