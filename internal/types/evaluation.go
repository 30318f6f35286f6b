package types

import "time"

// Severity is the display classification of a task or a calendar day.
//
// Ordering, most severe first: blocked > warning > unknown > suitable.
// "unknown" means weather could not be checked; it outranks suitable so a day
// that could not be verified is never shown as clear, but a known violation on
// the same day still wins.
type Severity string

const (
	SeveritySuitable Severity = "suitable"
	SeverityUnknown  Severity = "unknown"
	SeverityWarning  Severity = "warning"
	SeverityBlocked  Severity = "blocked"
)

// Rank returns the position of s in the severity order; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocked:
		return 3
	case SeverityWarning:
		return 2
	case SeverityUnknown:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EvaluationStatus records whether weather data was available when a task was
// evaluated.
type EvaluationStatus string

const (
	// EvaluationEvaluated means an observation was found and the rule set ran.
	EvaluationEvaluated EvaluationStatus = "evaluated"
	// EvaluationNoObservation means the provider had no data for the site and
	// date. The task is treated as suitable (fail-open).
	EvaluationNoObservation EvaluationStatus = "no_observation"
	// EvaluationUnavailable means the provider failed or timed out. Suitability
	// could not be determined.
	EvaluationUnavailable EvaluationStatus = "unavailable"
)

// ViolationAction mirrors the action of the rule that fired, as reported to
// callers. The rule set itself uses the closed rules.Action sum type.
type ViolationAction string

const (
	ViolationBlock      ViolationAction = "block"
	ViolationReschedule ViolationAction = "reschedule"
)

// RuleViolation is the serializable record of a violated rule.
type RuleViolation struct {
	Rule           string          `json:"rule"`
	Action         ViolationAction `json:"action"`
	AdjustmentDays int             `json:"adjustment_days,omitempty"`
	Reason         string          `json:"reason"`
}

// Evaluation is the per-task outcome of applying the rule set to the weather
// observation for the task's site and scheduled date. It is derived and never
// persisted.
type Evaluation struct {
	TaskID                    string              `json:"task_id"`
	Date                      Date                `json:"date"`
	Suitable                  bool                `json:"suitable"`
	Status                    EvaluationStatus    `json:"status"`
	Observation               *WeatherObservation `json:"observation,omitempty"`
	ViolatedRules             []RuleViolation     `json:"violated_rules"`
	RecommendedAdjustmentDays *int                `json:"recommended_adjustment_days,omitempty"`
	EvaluatedAt               time.Time           `json:"evaluated_at"`
}

// DataAvailable reports whether an observation backed this evaluation.
func (e Evaluation) DataAvailable() bool {
	return e.Status == EvaluationEvaluated
}

// Blocked reports whether any violated rule has the block action.
func (e Evaluation) Blocked() bool {
	for _, v := range e.ViolatedRules {
		if v.Action == ViolationBlock {
			return true
		}
	}
	return false
}

// Severity derives the display severity of this single evaluation.
func (e Evaluation) Severity() Severity {
	switch {
	case e.Status == EvaluationUnavailable:
		return SeverityUnknown
	case e.Blocked():
		return SeverityBlocked
	case len(e.ViolatedRules) > 0:
		return SeverityWarning
	default:
		return SeveritySuitable
	}
}

// DayGroup is the aggregation of all tasks scheduled on one calendar day.
//
// Tasks are ordered by task ID. Representative is the evaluation of the first
// task (by ID) whose own severity equals the day's severity, so repeated
// aggregation of the same input always surfaces the same example.
type DayGroup struct {
	Date           Date                  `json:"date"`
	Tasks          []Task                `json:"tasks"`
	Severity       Severity              `json:"severity"`
	Representative *Evaluation           `json:"representative,omitempty"`
	Evaluations    map[string]Evaluation `json:"evaluations"`
}
