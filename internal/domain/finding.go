package domain

import "fmt"

// Severity ranks a finding. Any critical finding blocks promotion.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Category groups findings by the check that produced them.
type Category string

const (
	CategoryLookAhead    Category = "look_ahead"
	CategoryOverfitting  Category = "overfitting"
	CategorySurvivorship Category = "survivorship"
	CategoryDataQuality  Category = "data_quality"
	CategorySimulation   Category = "simulation"
)

// Finding is one observation produced by an audit check or by the
// simulator. Evidence is optional and points at the offending trade,
// window, bar, or source line.
type Finding struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Evidence string   `json:"evidence,omitempty"`
}

func (f Finding) String() string {
	if f.Evidence == "" {
		return fmt.Sprintf("[%s/%s] %s", f.Severity, f.Category, f.Message)
	}
	return fmt.Sprintf("[%s/%s] %s (%s)", f.Severity, f.Category, f.Message, f.Evidence)
}
