// Package promotion runs the lifecycle of a strategy from audit-passed
// candidate through paper trading to promotion or retirement.
package promotion

import (
	"errors"
	"fmt"

	"evalgate/internal/domain"
)

// ErrInvalidTransition is matched by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid promotion transition")

// ErrAuditFailed is returned by Admit when the audit report has critical
// findings.
var ErrAuditFailed = errors.New("audit report has critical findings")

// Event is an input to the promotion state machine.
type Event string

const (
	EventAdmit      Event = "admit"
	EventStartPaper Event = "start_paper"
	EventPromote    Event = "promote"
	EventRetire     Event = "retire"   // automatic, from paper trading
	EventOverride   Event = "override" // operator retirement from any live state
)

// TransitionError reports an event that is not allowed in a state. From is
// empty when the strategy has no record yet.
type TransitionError struct {
	StrategyID string
	From       domain.PromotionState
	Event      Event
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "(new)"
	}
	if e.StrategyID == "" {
		return fmt.Sprintf("promotion: event %s not allowed from %s", e.Event, from)
	}
	return fmt.Sprintf("promotion: %s: event %s not allowed from %s", e.StrategyID, e.Event, from)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Transition is the whole state machine. It returns the state reached by
// applying ev in from, or a *TransitionError. Retired is terminal.
func Transition(from domain.PromotionState, ev Event) (domain.PromotionState, error) {
	switch {
	case from == "" && ev == EventAdmit:
		return domain.StateCandidate, nil
	case from == domain.StateCandidate && ev == EventStartPaper:
		return domain.StatePaperTesting, nil
	case from == domain.StatePaperTesting && ev == EventPromote:
		return domain.StatePromoted, nil
	case from == domain.StatePaperTesting && ev == EventRetire:
		return domain.StateRetired, nil
	case ev == EventOverride && from != "" && !from.Terminal():
		return domain.StateRetired, nil
	}
	return from, &TransitionError{From: from, Event: ev}
}
