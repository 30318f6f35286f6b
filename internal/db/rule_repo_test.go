package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marinaops/internal/rules"
	"marinaops/internal/types"
)

func TestRuleRepository_LoadActiveRules(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(
		[]any{"storm", "block", 0, types.StringPtr("Storm warning"), rules.LogicAny,
			[]rules.Condition{{Field: rules.FieldCondition, Operator: rules.OpIn, Values: []string{"storm"}}}},
		[]any{"high_wind", "reschedule", 2, nil, rules.Logic(""),
			[]rules.Condition{{Field: rules.FieldWindSpeed, Operator: rules.OpGreaterThan, Threshold: []float64{30}}}},
	), nil)

	loaded, err := NewRuleRepository(db).LoadActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "storm", loaded[0].Name)
	assert.Equal(t, rules.Block{}, loaded[0].Action)
	assert.Equal(t, "Storm warning", loaded[0].Reason)
	assert.Equal(t, rules.Reschedule{AdjustmentDays: 2}, loaded[1].Action)
	assert.Equal(t, rules.LogicAny, loaded[1].Predicate.Logic)
}

func TestRuleRepository_InvalidRow(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(newMockRows(
		[]any{"bad", "reschedule", 0, nil, rules.LogicAny,
			[]rules.Condition{{Field: rules.FieldWindSpeed, Operator: rules.OpGreaterThan, Threshold: []float64{30}}}},
	), nil)

	_, err := NewRuleRepository(db).LoadActiveRules(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeConfigInvalidRuleSet))
}

func TestRuleRepository_QueryError(t *testing.T) {
	db := new(mockDBTX)
	db.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	_, err := NewRuleRepository(db).LoadActiveRules(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestHealthProbe(t *testing.T) {
	p := NewHealthProbe(mockPinger{})
	assert.Equal(t, "database", p.Name())
	assert.NoError(t, p.Check(context.Background()))

	assert.Error(t, NewHealthProbe(mockPinger{err: errors.New("down")}).Check(context.Background()))
}
