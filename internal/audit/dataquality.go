package audit

import (
	"fmt"
	"math"
	"sort"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

// maxGapFindings caps per-gap warnings; the rest are summarised.
const maxGapFindings = 10

// checkDataQuality scans the equity curve and the price series. Non-finite
// equity, non-finite or non-positive prices and out-of-order timestamps are
// critical; calendar gaps are warnings. Simulation warnings raised by the
// backtest are carried into the report.
func checkDataQuality(result *backtest.Result, cfg Config) []domain.Finding {
	var findings []domain.Finding
	critical := func(msg, evidence string) {
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityCritical,
			Category: domain.CategoryDataQuality,
			Message:  msg,
			Evidence: evidence,
		})
	}

	// Equity.
	bad, first := 0, -1
	for i, p := range result.Equity {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			if first < 0 {
				first = i
			}
			bad++
		}
	}
	if bad > 0 {
		critical(fmt.Sprintf("equity curve has %d non-finite values", bad),
			fmt.Sprintf("first at index %d (%s)", first, result.Equity[first].Timestamp.Format(time.RFC3339)))
	}

	// Prices.
	bad, first = 0, -1
	for i, b := range result.Series {
		if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) {
			if first < 0 {
				first = i
			}
			bad++
		}
	}
	if bad > 0 {
		b := result.Series[first]
		critical(fmt.Sprintf("price series has %d bars with non-finite or non-positive prices", bad),
			fmt.Sprintf("first at bar %d (%s) o=%v h=%v l=%v c=%v", first,
				b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close))
	}

	// Ordering.
	ordered := true
	for i := 1; i < len(result.Series); i++ {
		if !result.Series[i].Timestamp.After(result.Series[i-1].Timestamp) {
			critical("price series timestamps are not strictly increasing",
				fmt.Sprintf("bar %d (%s) follows %s", i,
					result.Series[i].Timestamp.Format(time.RFC3339),
					result.Series[i-1].Timestamp.Format(time.RFC3339)))
			ordered = false
			break
		}
	}
	if ordered {
		findings = append(findings, checkGaps(result.Series, cfg)...)
	}

	findings = append(findings, result.Warnings...)
	return findings
}

// checkGaps flags spacing between consecutive bars beyond the expected
// cadence. Daily bars are measured in missing trading sessions; intraday bars
// against a multiple of the median spacing within a session.
func checkGaps(bars []domain.Bar, cfg Config) []domain.Finding {
	if len(bars) < 2 {
		return nil
	}
	deltas := make([]time.Duration, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		deltas = append(deltas, bars[i].Timestamp.Sub(bars[i-1].Timestamp))
	}
	sorted := append([]time.Duration(nil), deltas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]
	daily := median >= 20*time.Hour

	var findings []domain.Finding
	gaps := 0
	for i, d := range deltas {
		prev, cur := bars[i].Timestamp, bars[i+1].Timestamp
		var msg string
		if daily {
			missing := cfg.Calendar.MissingSessions(prev, cur)
			if missing <= cfg.MaxGapSessions {
				continue
			}
			msg = fmt.Sprintf("%d trading sessions missing", missing)
		} else {
			if !sameDay(prev, cur) || float64(d) <= cfg.MaxGapMultiple*float64(median) {
				continue
			}
			msg = fmt.Sprintf("intraday gap %s exceeds %.1fx median spacing %s", d, cfg.MaxGapMultiple, median)
		}
		gaps++
		if gaps > maxGapFindings {
			continue
		}
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityWarning,
			Category: domain.CategoryDataQuality,
			Message:  msg,
			Evidence: fmt.Sprintf("%s -> %s", prev.Format(time.RFC3339), cur.Format(time.RFC3339)),
		})
	}
	if gaps > maxGapFindings {
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityWarning,
			Category: domain.CategoryDataQuality,
			Message:  fmt.Sprintf("%d further gaps not listed", gaps-maxGapFindings),
		})
	}
	return findings
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
