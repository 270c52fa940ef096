package pipeline

import (
	"evalgate/internal/audit"
	"evalgate/internal/backtest"
	"evalgate/internal/config"
	"evalgate/internal/domain"
	"evalgate/internal/engine"
	"evalgate/internal/promotion"
	"evalgate/internal/util"
)

// The functions below turn a validated config into the frozen value objects
// the components take. They assume Config.Validate passed, so required
// pointer fields are set.

// BacktestSettings builds the walk-forward parameters.
func BacktestSettings(c *config.Config) backtest.Config {
	b := c.Backtest
	return backtest.Config{
		TrainWindow:        *b.TrainWindow,
		TestWindow:         *b.TestWindow,
		Step:               *b.Step,
		SlippagePct:        b.SlippagePct,
		CommissionPerTrade: b.CommissionPerTrade,
		RiskFreeRate:       b.RiskFreeRate,
		InitialCapital:     b.InitialCapital,
		PartialWindows:     backtest.PartialPolicy(b.PartialWindows),
	}
}

// AuditSettings builds the auditor thresholds. Zero fields keep the
// auditor's defaults.
func AuditSettings(c *config.Config) audit.Config {
	a := c.Audit
	return audit.Config{
		MinOOSRatio:        a.OverfitMinOOSRatio,
		MaxSharpeGap:       a.OverfitMaxSharpeGap,
		EscalationFraction: a.OverfitEscalationFraction,
		MaxGapSessions:     a.MaxGapSessions,
		MaxGapMultiple:     a.MaxGapMultiple,
		Calendar:           util.NewTradingCalendar(domain.MarketUS, a.Holidays...),
	}
}

// PromotionSettings builds the promotion gates.
func PromotionSettings(c *config.Config) promotion.Config {
	p := c.Promotion
	return promotion.Config{
		MinPaperTradingDays: *p.MinPaperTradingDays,
		ComparisonTolerance: *p.ComparisonTolerance,
		MaxSharpeDrift:      *p.MaxSharpeDrift,
		DrawdownMultiple:    p.DrawdownMultiple,
	}
}

// RiskSettings builds the order-level limits.
func RiskSettings(c *config.Config) engine.RiskLimits {
	r := c.Risk
	return engine.RiskLimits{
		MaxPositionPct:            *r.MaxPositionPct,
		MaxDailyLossPct:           *r.MaxDailyLossPct,
		MaxSectorConcentrationPct: *r.MaxSectorConcentrationPct,
		WarnFraction:              r.WarnFraction,
	}
}
