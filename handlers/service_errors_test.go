package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/security-audit/internal/guardrails"
	"github.com/upb/security-audit/services"
	"github.com/upb/security-audit/utils"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "not found error",
			err:            services.ErrScopeNotFound,
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "validation error",
			err:            services.ErrInvalidSubmission,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "bad_request",
		},
		{
			name:           "guardrail error",
			err:            services.ErrGuardrailViolation,
			expectedStatus: http.StatusUnprocessableEntity,
			expectedError:  "unprocessable_entity",
		},
		{
			name:           "unauthorized error",
			err:            services.ErrUnauthorized,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "forbidden error",
			err:            services.ErrForbidden,
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
		{
			name:           "conflict error",
			err:            services.ErrChainConflict,
			expectedStatus: http.StatusConflict,
			expectedError:  "conflict",
		},
		{
			name:           "queue full",
			err:            services.ErrQueueFull,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "service_unavailable",
		},
		{
			name:           "write timeout",
			err:            services.ErrWriteTimedOut,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "service_unavailable",
		},
		{
			name:           "persistence error",
			err:            services.ErrPersistenceFailed,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "service_unavailable",
		},
		{
			name:           "serialization error",
			err:            services.ErrSerializationFailed,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "internal error",
			err:            services.ErrInternal,
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
		{
			name:           "unknown error",
			err:            errors.New("some unknown error"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotEmpty(t, response.Message)
		})
	}
}

func TestHandleServiceError_GuardrailReasons(t *testing.T) {
	gerr := &guardrails.Error{EventType: "reward.redeemed", Reasons: []string{"tenant_id is required", "details.rewardId is required"}}
	err := services.NewDomainError(services.ErrorTypeGuardrail, "security event guardrails failed", gerr).
		WithDetail("event_type", "reward.redeemed").
		WithDetail("reasons", gerr.Reasons)

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "reward.redeemed", response.Details["event_type"])
	assert.Equal(t, []interface{}{"tenant_id is required", "details.rewardId is required"}, response.Details["reasons"])
	assert.Contains(t, response.Message, "tenant_id is required")
}

func TestHandleServiceError_ValidationFields(t *testing.T) {
	inner := utils.NewFieldError("event_type", "event_type is required")
	err := services.NewDomainError(services.ErrorTypeValidation, "invalid security event", inner)

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	fields := response.Details["fields"].(map[string]interface{})
	assert.Equal(t, "event_type is required", fields["event_type"])
}

func TestHandleServiceError_InternalHidesDetails(t *testing.T) {
	err := services.NewDomainError(services.ErrorTypeInternal, "security event pipeline panicked", errors.New("nil map")).
		WithDetail("stack", "goroutine 1 [running]")

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "goroutine")
	assert.NotContains(t, w.Body.String(), "nil map")
}

func TestHandleServiceErrorNil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("field errors", func(t *testing.T) {
		err := &utils.ValidationError{
			Message: "Validation failed",
			Fields: map[string]string{
				"event_type": "event_type is required",
				"severity":   "severity must be one of: low medium high critical",
			},
		}

		w := httptest.NewRecorder()
		HandleValidationError(w, err, logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "Validation failed", response.Message)
		fields := response.Details["fields"].(map[string]interface{})
		assert.Equal(t, "event_type is required", fields["event_type"])
		assert.Contains(t, fields["severity"], "low medium high critical")
	})

	t.Run("generic error", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleValidationError(w, errors.New("malformed JSON body"), logger)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

		assert.Equal(t, "bad_request", response.Error)
		assert.Equal(t, "malformed JSON body", response.Message)
	})
}
