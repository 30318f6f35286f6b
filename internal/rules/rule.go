package rules

import (
	"fmt"

	"marinaops/internal/types"
)

// Rule is a named predicate-to-action mapping.
type Rule struct {
	Name      string
	Predicate Predicate
	Action    Action
	Reason    string
}

// Validate checks the rule in isolation. Uniqueness of names is checked by
// NewSet.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Action == nil {
		return fmt.Errorf("rule %q: action is required", r.Name)
	}
	if re, ok := r.Action.(Reschedule); ok && re.AdjustmentDays <= 0 {
		return fmt.Errorf("rule %q: adjustment_days must be positive", r.Name)
	}
	if err := r.Predicate.Validate(); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return nil
}

// Violation reports whether the rule is violated by obs and, if so, the
// reportable record. Allow rules never violate.
func (r Rule) Violation(obs types.WeatherObservation) (*types.RuleViolation, error) {
	matched, err := r.Predicate.Matches(obs)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConfigInvalidPredicate,
			"rule predicate cannot be evaluated",
			err,
			map[string]any{"rule": r.Name},
		)
	}
	if !matched {
		return nil, nil
	}
	action, adjustment, violates := violationAction(r.Action)
	if !violates {
		return nil, nil
	}
	return &types.RuleViolation{
		Rule:           r.Name,
		Action:         action,
		AdjustmentDays: adjustment,
		Reason:         r.Reason,
	}, nil
}
