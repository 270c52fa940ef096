package audit

import (
	"encoding/json"
	"time"

	"evalgate/internal/domain"
)

// Report is the outcome of one audit run. Its findings are fixed when the
// Auditor builds it; callers only get copies.
type Report struct {
	strategyID string
	findings   []domain.Finding
	createdAt  time.Time
}

// StrategyID is the identity of the audited backtest.
func (r Report) StrategyID() string { return r.strategyID }

// CreatedAt is when the audit ran.
func (r Report) CreatedAt() time.Time { return r.createdAt }

// Findings returns a copy of all findings in check order.
func (r Report) Findings() []domain.Finding {
	return append([]domain.Finding(nil), r.findings...)
}

// Passed reports whether there are no critical findings.
func (r Report) Passed() bool { return r.Count(domain.SeverityCritical) == 0 }

// Count returns the number of findings with the given severity.
func (r Report) Count(sev domain.Severity) int {
	n := 0
	for _, f := range r.findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// ByCategory returns a copy of the findings in one category.
func (r Report) ByCategory(cat domain.Category) []domain.Finding {
	var out []domain.Finding
	for _, f := range r.findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

type reportJSON struct {
	StrategyID string           `json:"strategy_id"`
	Passed     bool             `json:"passed"`
	Critical   int              `json:"critical"`
	Warnings   int              `json:"warnings"`
	Info       int              `json:"info"`
	Findings   []domain.Finding `json:"findings"`
	CreatedAt  time.Time        `json:"created_at"`
}

// MarshalJSON renders the report with its computed verdict and counts.
func (r Report) MarshalJSON() ([]byte, error) {
	findings := r.Findings()
	if findings == nil {
		findings = []domain.Finding{}
	}
	return json.Marshal(reportJSON{
		StrategyID: r.strategyID,
		Passed:     r.Passed(),
		Critical:   r.Count(domain.SeverityCritical),
		Warnings:   r.Count(domain.SeverityWarning),
		Info:       r.Count(domain.SeverityInfo),
		Findings:   findings,
		CreatedAt:  r.createdAt,
	})
}
