package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"marinaops/internal/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	return resp.Error
}

func TestData_WrapsEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Data(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, map[string]int{"moved": 1})

	if rec.Code != http.StatusCreated {
		t.Errorf("status: got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type: got %q", rec.Header().Get("Content-Type"))
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"data":{"moved":1}}` {
		t.Errorf("body: got %s", got)
	}
}

func TestJSON_MarshalFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]any{"bad": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if decodeError(t, rec).Code != string(types.ErrCodeInternalUnexpected) {
		t.Error("expected internal error code")
	}
}

func TestError_MapsCodesToStatus(t *testing.T) {
	tests := []struct {
		code   types.ErrorCode
		status int
	}{
		{types.ErrCodeValidationInvalidDate, http.StatusBadRequest},
		{types.ErrCodeNotFoundTask, http.StatusNotFound},
		{types.ErrCodeConflictConcurrent, http.StatusConflict},
		{types.ErrCodeConflictInvalidState, http.StatusConflict},
		{types.ErrCodeUnavailableWeather, http.StatusServiceUnavailable},
		{types.ErrCodeUpstreamWeather, http.StatusBadGateway},
		{types.ErrCodeConfigInvalidRuleSet, http.StatusInternalServerError},
		{types.ErrCodeInternalDB, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-9"))
			rec := httptest.NewRecorder()

			Error(rec, req, types.NewAppError(tt.code, "boom", nil))

			if rec.Code != tt.status {
				t.Errorf("status: got %d, want %d", rec.Code, tt.status)
			}
			detail := decodeError(t, rec)
			if detail.Code != string(tt.code) || detail.RequestID != "req-9" {
				t.Errorf("unexpected detail: %+v", detail)
			}
		})
	}
}

func TestError_DetailsAndWrapping(t *testing.T) {
	appErr := types.NewAppErrorWithDetails(types.ErrCodeConflictConcurrent, "task moved concurrently", nil,
		map[string]any{"task_id": "t1"})
	wrapped := fmt.Errorf("handler: %w", appErr)

	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodPost, "/", nil), wrapped)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for wrapped AppError, got %d", rec.Code)
	}
	detail := decodeError(t, rec)
	if detail.Details["task_id"] != "t1" {
		t.Errorf("details lost: %+v", detail.Details)
	}
}

func TestError_GenericErrorDoesNotLeak(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("internal error leaked to the client")
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		NewDate string `json:"new_date"`
	}

	tests := []struct {
		name    string
		payload string
		wantErr bool
		msg     string
	}{
		{"valid", `{"new_date":"2024-06-12"}`, false, ""},
		{"unknown field", `{"new_date":"2024-06-12","force":true}`, true, "unknown field"},
		{"syntax", `{"new_date":`, true, ""},
		{"empty", ``, true, "must not be empty"},
		{"type mismatch", `{"new_date":12}`, true, "invalid value"},
		{"two values", `{"new_date":"a"}{"new_date":"b"}`, true, "single JSON object"},
		{"too large", `{"new_date":"` + strings.Repeat("x", maxRequestBodySize) + `"}`, true, "1MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			var dst body
			err := DecodeJSON(rec, req, &dst)

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.NewDate != "2024-06-12" {
					t.Errorf("decoded %+v", dst)
				}
				return
			}
			if !types.IsCode(err, types.ErrCodeValidationInvalidJSON) {
				t.Fatalf("expected validation_invalid_json, got %v", err)
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("message %q does not mention %q", err.Error(), tt.msg)
			}
		})
	}
}
