package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
	"evalgate/internal/pipeline"
	"evalgate/internal/store"
)

// Styles.
var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	idStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	criticalStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func stateStyle(s domain.PromotionState) lipgloss.Style {
	switch s {
	case domain.StatePromoted:
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	case domain.StatePaperTesting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	case domain.StateRetired:
		return dimStyle
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	}
}

func resultStyle(r string) lipgloss.Style {
	switch r {
	case pipeline.ResultAdmitted:
		return gainStyle
	case pipeline.ResultExisting:
		return dimStyle
	default:
		return lossStyle
	}
}

func severityStyle(s domain.Severity) lipgloss.Style {
	switch s {
	case domain.SeverityCritical:
		return criticalStyle
	case domain.SeverityWarning:
		return warningStyle
	default:
		return dimStyle
	}
}

// cell pads or truncates s to w columns before styling, so ANSI codes do
// not disturb the alignment. A zero width leaves s as is.
func cell(st lipgloss.Style, s string, w int) string {
	if w > 1 && len(s) > w {
		s = s[:w-1] + "~"
	}
	return st.Render(fmt.Sprintf("%-*s", w, s))
}

// pct formats a fraction as a signed percentage, coloured by sign.
func pct(v float64, w int) string {
	s := fmt.Sprintf("%+.2f%%", v*100)
	switch {
	case v > 0:
		return cell(gainStyle, s, w)
	case v < 0:
		return cell(lossStyle, s, w)
	default:
		return cell(lipgloss.NewStyle(), s, w)
	}
}

func num(v float64, w int) string {
	return cell(lipgloss.NewStyle(), fmt.Sprintf("%.2f", v), w)
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func renderPromotions(recs []domain.PromotionRecord) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-14s %-17s %9s %7s %9s", "STRATEGY", "STATE", "ENTERED", "BT RET", "BT SR", "LIVE RET")))
	b.WriteByte('\n')
	for _, r := range recs {
		live := cell(dimStyle, "-", 9)
		if r.Snapshot != nil {
			live = pct(r.Snapshot.Return, 9)
		}
		fmt.Fprintf(&b, "%s %s %s %s %s %s\n",
			cell(idStyle, r.StrategyID, 32),
			cell(stateStyle(r.State), string(r.State), 14),
			cell(dimStyle, r.EnteredAt.Local().Format("2006-01-02 15:04"), 17),
			pct(r.Baseline.TotalReturn, 9),
			num(r.Baseline.Sharpe, 7),
			live,
		)
	}
	if len(recs) == 0 {
		b.WriteString(dimStyle.Render("no strategies"))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderRecord(r *domain.PromotionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", idStyle.Render(r.StrategyID), stateStyle(r.State).Render(string(r.State)))
	fmt.Fprintf(&b, "  entered    %s (version %d)\n", r.EnteredAt.Local().Format(time.RFC3339), r.Version)
	fmt.Fprintf(&b, "  baseline   return %s  sharpe %.2f  max dd %.2f%%  win %.0f%%  trades %d\n",
		pct(r.Baseline.TotalReturn, 0), r.Baseline.Sharpe, r.Baseline.MaxDrawdown*100, r.Baseline.WinRate*100, r.Baseline.Trades)
	if s := r.Snapshot; s != nil {
		viol := ""
		if s.RiskViolation {
			viol = "  " + criticalStyle.Render("risk violation")
		}
		fmt.Fprintf(&b, "  live       return %s  sharpe %.2f  max dd %.2f%%  %d days as of %s%s\n",
			pct(s.Return, 0), s.Sharpe, s.MaxDrawdown*100, s.Days, s.AsOf.Format(time.DateOnly), viol)
	}
	return b.String()
}

func renderHistory(entries []domain.TransitionEntry) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-14s %-14s %-18s %s", "AT", "FROM", "TO", "EVENT", "REASON")))
	b.WriteByte('\n')
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			cell(dimStyle, e.At.Local().Format("2006-01-02 15:04:05"), 20),
			cell(stateStyle(e.From), string(e.From), 14),
			cell(stateStyle(e.To), string(e.To), 14),
			cell(lipgloss.NewStyle(), e.Event, 18),
			e.Reason,
		)
	}
	return b.String()
}

func renderEvaluationRecords(recs []store.EvaluationRecord) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-20s %-8s %-6s %9s %7s %9s %5s %s", "AT", "SYMBOL", "AUDIT", "RETURN", "SHARPE", "MAX DD", "WIN", "FINDINGS")))
	b.WriteByte('\n')
	for _, r := range recs {
		verdict := cell(gainStyle, "pass", 6)
		if !r.Passed {
			verdict = cell(criticalStyle, "fail", 6)
		}
		fmt.Fprintf(&b, "%s %s %s %s %s %s %s %dc/%dw/%di\n",
			cell(dimStyle, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), 20),
			cell(lipgloss.NewStyle(), r.Symbol, 8),
			verdict,
			pct(r.Summary.TotalReturn, 9),
			num(r.Summary.SharpeRatio, 7),
			pct(-r.Summary.MaxDrawdown, 9),
			cell(lipgloss.NewStyle(), fmt.Sprintf("%.0f%%", r.Summary.WinRate*100), 5),
			r.Critical, r.Warnings, r.Info,
		)
	}
	return b.String()
}

func renderEvaluations(evals []*pipeline.Evaluation) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s %-13s %9s %7s %9s  %s", "STRATEGY", "RESULT", "RETURN", "SHARPE", "MAX DD", "DETAIL")))
	b.WriteByte('\n')
	for _, ev := range evals {
		detail := ""
		switch {
		case ev.Err != nil:
			detail = ev.Err.Error()
		case ev.Result == pipeline.ResultFailed:
			detail = fmt.Sprintf("%d critical finding(s)", ev.Report.Count(domain.SeverityCritical))
		case ev.Record != nil:
			detail = string(ev.Record.State)
		}
		fmt.Fprintf(&b, "%s %s %s %s %s  %s\n",
			cell(idStyle, ev.StrategyID, 32),
			cell(resultStyle(ev.Result), ev.Result, 13),
			pct(ev.Summary.TotalReturn, 9),
			num(ev.Summary.SharpeRatio, 7),
			pct(-ev.Summary.MaxDrawdown, 9),
			detail,
		)
	}
	for _, ev := range evals {
		for _, f := range ev.Report.Findings() {
			if f.Severity == domain.SeverityInfo {
				continue
			}
			fmt.Fprintf(&b, "  %s %s\n", cell(severityStyle(f.Severity), string(f.Severity), 8), dimStyle.Render(ev.StrategyID)+" "+f.String())
		}
	}
	return b.String()
}

func renderBacktest(res *backtest.Result) string {
	var b strings.Builder
	s := res.Summary
	b.WriteString(titleStyle.Render(fmt.Sprintf(" %s on %s, %d windows ", res.StrategyID, res.Symbol, res.WindowCount)))
	b.WriteByte('\n')
	fmt.Fprintf(&b, "  return %s  sharpe %.2f  max dd %.2f%%  win %.0f%%  pf %.2f  trades %d  commission %.2f\n",
		pct(s.TotalReturn, 0), s.SharpeRatio, s.MaxDrawdown*100, s.WinRate*100, s.ProfitFactor, s.TotalTrades, s.TotalCommission)
	b.WriteString(headerStyle.Render(fmt.Sprintf("  %-4s %-23s %9s %7s %9s %7s %6s", "WIN", "TEST", "IS RET", "IS SR", "OOS RET", "OOS SR", "TRADES")))
	b.WriteByte('\n')
	for _, w := range res.Windows {
		if w.Skipped {
			fmt.Fprintf(&b, "  %-4d %s\n", w.Index, warningStyle.Render("skipped: "+w.SkipReason))
			continue
		}
		fmt.Fprintf(&b, "  %-4d %-23s %s %s %s %s %6d\n",
			w.Index,
			w.TestStartDate.Format(time.DateOnly)+".."+w.TestEndDate.Format("01-02"),
			pct(w.ISReturn, 9), num(w.ISSharpe, 7),
			pct(w.OOSReturn, 9), num(w.OOSSharpe, 7),
			w.Trades,
		)
	}
	for _, f := range res.Warnings {
		fmt.Fprintf(&b, "  %s %s\n", cell(severityStyle(f.Severity), string(f.Severity), 8), f.String())
	}
	return b.String()
}
