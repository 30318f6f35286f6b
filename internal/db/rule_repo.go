package db

import (
	"context"

	"marinaops/internal/rules"
	"marinaops/internal/types"
)

// RuleRepository reads the active rule set from rescheduling_rules. It
// implements rules.Source. Priority order is the priority column, then name.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a RuleRepository.
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

var _ rules.Source = (*RuleRepository)(nil)

func (r *RuleRepository) LoadActiveRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, action, adjustment_days, reason, logic, conditions
		 FROM rescheduling_rules
		 WHERE active
		 ORDER BY priority, name`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load rules", err)
	}
	defer rows.Close()

	var records []rules.Record
	for rows.Next() {
		var (
			rec    rules.Record
			reason *string
		)
		if err := rows.Scan(&rec.Name, &rec.Action, &rec.AdjustmentDays, &reason, &rec.Logic, &rec.Conditions); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan rule", err)
		}
		if reason != nil {
			rec.Reason = *reason
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate rules", err)
	}
	return rules.BuildAll(records)
}
