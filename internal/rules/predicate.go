package rules

import (
	"fmt"
	"slices"
	"strings"

	"marinaops/internal/types"
)

// Field names an observation attribute a condition can test.
type Field string

const (
	FieldWindSpeed      Field = "wind_speed"
	FieldPrecipitation  Field = "precipitation"
	FieldTemperatureMin Field = "temperature_min"
	FieldTemperatureMax Field = "temperature_max"
	FieldCondition      Field = "condition"
)

// Operator is a comparison applied to a field.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpBetween        Operator = "between"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
)

// Logic combines a predicate's conditions.
type Logic string

const (
	LogicAny Logic = "ANY"
	LogicAll Logic = "ALL"
)

// Condition is a single comparison. Numeric fields use Threshold (one value,
// or two for between, inclusive). The condition field uses Values.
type Condition struct {
	Field     Field     `json:"field"`
	Operator  Operator  `json:"operator"`
	Threshold []float64 `json:"threshold,omitempty"`
	Values    []string  `json:"values,omitempty"`
}

// Predicate is a set of conditions joined by Logic.
type Predicate struct {
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`
}

func (f Field) numeric() bool {
	switch f {
	case FieldWindSpeed, FieldPrecipitation, FieldTemperatureMin, FieldTemperatureMax:
		return true
	}
	return false
}

// Validate checks that the condition can be evaluated.
func (c Condition) Validate() error {
	switch {
	case c.Field.numeric():
		switch c.Operator {
		case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual, OpNotEqual:
			if len(c.Threshold) != 1 {
				return fmt.Errorf("%s %s needs exactly one threshold, got %d", c.Field, c.Operator, len(c.Threshold))
			}
		case OpBetween:
			if len(c.Threshold) != 2 {
				return fmt.Errorf("%s between needs two thresholds, got %d", c.Field, len(c.Threshold))
			}
			if c.Threshold[0] > c.Threshold[1] {
				return fmt.Errorf("%s between bounds out of order: %v", c.Field, c.Threshold)
			}
		default:
			return fmt.Errorf("operator %q not supported on numeric field %s", c.Operator, c.Field)
		}
	case c.Field == FieldCondition:
		switch c.Operator {
		case OpIn, OpNotIn:
			if len(c.Values) == 0 {
				return fmt.Errorf("condition %s needs at least one value", c.Operator)
			}
		case OpEqual, OpNotEqual:
			if len(c.Values) != 1 {
				return fmt.Errorf("condition %s needs exactly one value, got %d", c.Operator, len(c.Values))
			}
		default:
			return fmt.Errorf("operator %q not supported on condition", c.Operator)
		}
	default:
		return fmt.Errorf("unknown field %q", c.Field)
	}
	return nil
}

// Validate checks the logic keyword and every condition.
func (p Predicate) Validate() error {
	if p.Logic != LogicAny && p.Logic != LogicAll {
		return fmt.Errorf("unknown logic %q", p.Logic)
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("predicate has no conditions")
	}
	for i, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Matches evaluates the predicate against obs. A condition on an absent
// optional field is false.
func (p Predicate) Matches(obs types.WeatherObservation) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	for _, c := range p.Conditions {
		hit := c.matches(obs)
		if p.Logic == LogicAny && hit {
			return true, nil
		}
		if p.Logic == LogicAll && !hit {
			return false, nil
		}
	}
	return p.Logic == LogicAll, nil
}

func (c Condition) matches(obs types.WeatherObservation) bool {
	if c.Field == FieldCondition {
		code := strings.ToLower(obs.Condition)
		in := slices.ContainsFunc(c.Values, func(v string) bool { return strings.ToLower(v) == code })
		switch c.Operator {
		case OpIn, OpEqual:
			return in
		default:
			return !in
		}
	}

	v, ok := numericValue(c.Field, obs)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpGreaterThan:
		return v > c.Threshold[0]
	case OpGreaterOrEqual:
		return v >= c.Threshold[0]
	case OpLessThan:
		return v < c.Threshold[0]
	case OpLessOrEqual:
		return v <= c.Threshold[0]
	case OpEqual:
		return v == c.Threshold[0]
	case OpNotEqual:
		return v != c.Threshold[0]
	case OpBetween:
		return v >= c.Threshold[0] && v <= c.Threshold[1]
	}
	return false
}

func numericValue(f Field, obs types.WeatherObservation) (float64, bool) {
	switch f {
	case FieldWindSpeed:
		if obs.WindSpeed == nil {
			return 0, false
		}
		return *obs.WindSpeed, true
	case FieldPrecipitation:
		if obs.Precipitation == nil {
			return 0, false
		}
		return *obs.Precipitation, true
	case FieldTemperatureMin:
		return obs.TemperatureMin, true
	case FieldTemperatureMax:
		return obs.TemperatureMax, true
	}
	return 0, false
}
