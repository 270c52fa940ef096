// Package audit inspects backtest results and strategy source for
// look-ahead bias, overfitting, survivorship bias and data-quality defects.
//
// The Auditor is read-only by construction: it holds no store, promoter or
// strategy reference, and its only output is a Report value.
package audit

import (
	"errors"
	"fmt"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
	"evalgate/internal/util"
)

// Config holds audit thresholds. Zero fields take the defaults below.
type Config struct {
	// MinOOSRatio flags a window whose out-of-sample Sharpe is below this
	// fraction of a positive in-sample Sharpe.
	MinOOSRatio float64
	// MaxSharpeGap flags a window whose in-sample minus out-of-sample Sharpe
	// exceeds it.
	MaxSharpeGap float64
	// EscalationFraction turns per-window overfitting warnings into one
	// critical finding when the divergent share of windows exceeds it.
	EscalationFraction float64
	// MaxGapSessions is the number of missing trading sessions tolerated
	// between consecutive daily bars.
	MaxGapSessions int
	// MaxGapMultiple is the tolerated spacing of intraday bars as a multiple
	// of the median spacing.
	MaxGapMultiple float64
	// Calendar decides trading sessions for daily bars.
	Calendar *util.TradingCalendar
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinOOSRatio:        0.5,
		MaxSharpeGap:       1.0,
		EscalationFraction: 0.5,
		MaxGapSessions:     3,
		MaxGapMultiple:     3.0,
		Calendar:           util.NewTradingCalendar(domain.MarketUS),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinOOSRatio == 0 {
		c.MinOOSRatio = d.MinOOSRatio
	}
	if c.MaxSharpeGap == 0 {
		c.MaxSharpeGap = d.MaxSharpeGap
	}
	if c.EscalationFraction == 0 {
		c.EscalationFraction = d.EscalationFraction
	}
	if c.MaxGapSessions == 0 {
		c.MaxGapSessions = d.MaxGapSessions
	}
	if c.MaxGapMultiple == 0 {
		c.MaxGapMultiple = d.MaxGapMultiple
	}
	if c.Calendar == nil {
		c.Calendar = d.Calendar
	}
	return c
}

// Validate rejects out-of-range thresholds.
func (c Config) Validate() error {
	var errs []error
	if c.MinOOSRatio < 0 || c.MinOOSRatio > 1 {
		errs = append(errs, fmt.Errorf("audit: min_oos_ratio must be in [0, 1], got %v", c.MinOOSRatio))
	}
	if c.MaxSharpeGap < 0 {
		errs = append(errs, fmt.Errorf("audit: max_sharpe_gap must not be negative, got %v", c.MaxSharpeGap))
	}
	if c.EscalationFraction < 0 || c.EscalationFraction >= 1 {
		errs = append(errs, fmt.Errorf("audit: escalation_fraction must be in [0, 1), got %v", c.EscalationFraction))
	}
	if c.MaxGapSessions < 0 {
		errs = append(errs, fmt.Errorf("audit: max_gap_sessions must not be negative, got %d", c.MaxGapSessions))
	}
	if c.MaxGapMultiple < 0 {
		errs = append(errs, fmt.Errorf("audit: max_gap_multiple must not be negative, got %v", c.MaxGapMultiple))
	}
	return errors.Join(errs...)
}

// Auditor runs the four check categories with fixed thresholds.
type Auditor struct {
	cfg Config
	now func() time.Time
}

// NewAuditor validates cfg and fills zero fields with defaults.
func NewAuditor(cfg Config) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auditor{cfg: cfg.withDefaults(), now: time.Now}, nil
}

// Audit inspects one backtest result, the strategy source it came from and
// the declared universe. Checks run in a fixed order and their findings are
// concatenated. Audit never fails; problems are findings.
func (a *Auditor) Audit(result *backtest.Result, source string, universe Universe) Report {
	rep := Report{createdAt: a.now().UTC()}
	if result == nil {
		rep.findings = []domain.Finding{{
			Severity: domain.SeverityCritical,
			Category: domain.CategoryDataQuality,
			Message:  "no backtest result to audit",
		}}
		return rep
	}
	rep.strategyID = result.StrategyID

	var findings []domain.Finding
	findings = append(findings, checkSourceLookAhead(source)...)
	findings = append(findings, checkTradeLookAhead(result)...)
	findings = append(findings, checkOverfitting(result, a.cfg)...)
	findings = append(findings, checkSurvivorship(universe)...)
	findings = append(findings, checkDataQuality(result, a.cfg)...)
	rep.findings = findings
	return rep
}
