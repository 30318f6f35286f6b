package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidDate, http.StatusBadRequest},
		{ErrCodeNotFoundTask, http.StatusNotFound},
		{ErrCodeConflictInvalidState, http.StatusConflict},
		{ErrCodeConflictConcurrent, http.StatusConflict},
		{ErrCodeUnavailableWeather, http.StatusServiceUnavailable},
		{ErrCodeUpstreamWeather, http.StatusBadGateway},
		{ErrCodeConfigInvalidRuleSet, http.StatusInternalServerError},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestAppError_Chain(t *testing.T) {
	root := errors.New("connection reset")
	appErr := NewAppError(ErrCodeInternalDB, "failed to load task", root)
	wrapped := fmt.Errorf("reschedule: %w", appErr)

	assert.ErrorIs(t, wrapped, root)
	assert.Equal(t, ErrCodeInternalDB, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeInternalDB))
	assert.False(t, IsCode(wrapped, ErrCodeNotFoundTask))
	assert.False(t, IsCode(nil, ErrCodeNotFoundTask))
	assert.Contains(t, appErr.Error(), "connection reset")
}

func TestAppError_WithDetails(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeConflictConcurrent, "conflict", nil, map[string]any{"task_id": "t1"})
	extended := base.WithDetails(map[string]any{"expected_date": "2024-06-10"})

	assert.Len(t, base.Details, 1)
	assert.Equal(t, "t1", extended.Details["task_id"])
	assert.Equal(t, "2024-06-10", extended.Details["expected_date"])
}
