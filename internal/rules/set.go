package rules

import (
	"fmt"

	"marinaops/internal/types"
)

// Set is an immutable, ordered rule collection. Declaration order is priority
// order. A *Set is never mutated after NewSet returns, so a single pointer
// read gives a caller a stable order for a whole evaluation pass.
type Set struct {
	rules []Rule
}

// NewSet validates rules and returns them as a Set. Any invalid rule or a
// duplicate name fails the whole set with config_invalid_rule_set.
func NewSet(rules []Rule) (*Set, error) {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, invalidSet(i, r.Name, err)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, invalidSet(i, r.Name, fmt.Errorf("duplicate rule name %q", r.Name))
		}
		seen[r.Name] = struct{}{}
	}
	return &Set{rules: append([]Rule(nil), rules...)}, nil
}

// MustNewSet is NewSet for fixtures.
func MustNewSet(rules ...Rule) *Set {
	s, err := NewSet(rules)
	if err != nil {
		panic(err)
	}
	return s
}

func invalidSet(index int, name string, err error) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeConfigInvalidRuleSet,
		"rule set is invalid",
		err,
		map[string]any{"index": index, "rule": name},
	)
}

// Rules returns a copy of the rules in priority order.
func (s *Set) Rules() []Rule {
	if s == nil {
		return nil
	}
	return append([]Rule(nil), s.rules...)
}

// Len returns the number of rules.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Violations evaluates every rule against obs in declaration order and
// returns the blocking and advisory violations separately, each in
// declaration order.
func (s *Set) Violations(obs types.WeatherObservation) (blocking, advisory []types.RuleViolation, err error) {
	if s == nil {
		return nil, nil, nil
	}
	for _, r := range s.rules {
		v, err := r.Violation(obs)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			continue
		}
		switch v.Action {
		case types.ViolationBlock:
			blocking = append(blocking, *v)
		case types.ViolationReschedule:
			advisory = append(advisory, *v)
		}
	}
	return blocking, advisory, nil
}
