package audit

import (
	"fmt"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

// checkOverfitting compares each window's in-sample Sharpe with its
// out-of-sample Sharpe. Divergent windows are warnings; when the divergent
// share of evaluated windows exceeds the escalation fraction, one critical
// finding is added. Windows whose Sharpe on either side is degenerate are
// not evaluated.
func checkOverfitting(result *backtest.Result, cfg Config) []domain.Finding {
	var findings []domain.Finding
	evaluated, divergent := 0, 0
	for _, w := range result.Windows {
		if w.Skipped || !w.ISComputed || !w.OOSComputed || w.ISDegenerate || w.OOSDegenerate {
			continue
		}
		evaluated++

		var reason string
		switch {
		case w.ISSharpe > 0 && w.OOSSharpe < cfg.MinOOSRatio*w.ISSharpe:
			reason = fmt.Sprintf("out-of-sample Sharpe %.2f below %.0f%% of in-sample %.2f",
				w.OOSSharpe, cfg.MinOOSRatio*100, w.ISSharpe)
		case w.ISSharpe-w.OOSSharpe > cfg.MaxSharpeGap:
			reason = fmt.Sprintf("in-sample/out-of-sample Sharpe gap %.2f exceeds %.2f",
				w.ISSharpe-w.OOSSharpe, cfg.MaxSharpeGap)
		default:
			continue
		}
		divergent++
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityWarning,
			Category: domain.CategoryOverfitting,
			Message:  fmt.Sprintf("window %d: %s", w.Index, reason),
			Evidence: fmt.Sprintf("window=%d is_sharpe=%.4f oos_sharpe=%.4f", w.Index, w.ISSharpe, w.OOSSharpe),
		})
	}

	if evaluated > 0 && float64(divergent)/float64(evaluated) > cfg.EscalationFraction {
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityCritical,
			Category: domain.CategoryOverfitting,
			Message: fmt.Sprintf("persistent in-sample/out-of-sample divergence in %d of %d windows",
				divergent, evaluated),
			Evidence: fmt.Sprintf("divergent=%d evaluated=%d threshold=%.2f", divergent, evaluated, cfg.EscalationFraction),
		})
	}
	return findings
}
