package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"marinaops/internal/types"
)

// Source loads the active rules in priority order. It is read at process
// start and on explicit refresh, never per request.
type Source interface {
	LoadActiveRules(ctx context.Context) ([]Rule, error)
}

// Record is the serialized form of a rule, shared by rule files and the
// rescheduling_rules table.
type Record struct {
	Name           string      `json:"name" validate:"required,max=100"`
	Action         string      `json:"action" validate:"required,oneof=allow reschedule block"`
	AdjustmentDays int         `json:"adjustment_days" validate:"min=0,max=365"`
	Reason         string      `json:"reason" validate:"max=500"`
	Logic          Logic       `json:"logic" validate:"omitempty,oneof=ANY ALL"`
	Conditions     []Condition `json:"conditions" validate:"required,min=1,dive"`
}

var recordValidator = validator.New()

// Build converts the record into a Rule. Logic defaults to ANY.
func (r Record) Build() (Rule, error) {
	if err := recordValidator.Struct(r); err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	action, err := ParseAction(r.Action, r.AdjustmentDays)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	logic := r.Logic
	if logic == "" {
		logic = LogicAny
	}
	rule := Rule{
		Name:      r.Name,
		Predicate: Predicate{Logic: logic, Conditions: r.Conditions},
		Action:    action,
		Reason:    r.Reason,
	}
	return rule, rule.Validate()
}

// RecordOf is the inverse of Build.
func RecordOf(r Rule) Record {
	rec := Record{
		Name:       r.Name,
		Reason:     r.Reason,
		Logic:      r.Predicate.Logic,
		Conditions: r.Predicate.Conditions,
	}
	if r.Action != nil {
		rec.Action = r.Action.Name()
	}
	if re, ok := r.Action.(Reschedule); ok {
		rec.AdjustmentDays = re.AdjustmentDays
	}
	return rec
}

// BuildAll converts records in order. The first failure is returned as a
// config_invalid_rule_set error naming the offending index.
func BuildAll(records []Record) ([]Rule, error) {
	out := make([]Rule, 0, len(records))
	for i, rec := range records {
		rule, err := rec.Build()
		if err != nil {
			return nil, invalidSet(i, rec.Name, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// ParseRules decodes a JSON array of rule records. Unknown keys are
// rejected so typos in thresholds do not silently disable a rule.
func ParseRules(data []byte) ([]Rule, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidRuleSet, "rule file is not valid JSON", err)
	}
	return BuildAll(records)
}

// FileSource reads rules from a JSON file on every load.
type FileSource struct {
	Path string
}

// NewFileSource returns a Source backed by the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) LoadActiveRules(_ context.Context) ([]Rule, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidRuleSet, "failed to read rule file", err)
	}
	return ParseRules(data)
}

// StaticSource serves a fixed rule list.
type StaticSource []Rule

func (s StaticSource) LoadActiveRules(_ context.Context) ([]Rule, error) {
	return append([]Rule(nil), s...), nil
}
