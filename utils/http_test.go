package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return response
}

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]string{"event_id": "123"}))
	assert.Equal(t, http.StatusCreated, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "123", response.Data.(map[string]interface{})["event_id"])
}

func TestWriteAccepted(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteAccepted(w, "queued"))
	assert.Equal(t, http.StatusAccepted, w.Code)

	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "queued", response.Message)
	assert.Nil(t, response.Data)
}

func TestErrorWriters(t *testing.T) {
	details := map[string]interface{}{"event_type": "rbac.role.deleted"}

	tests := []struct {
		name        string
		write       func(w http.ResponseWriter) error
		wantStatus  int
		wantError   string
		wantMessage string
		wantDetails bool
	}{
		{
			name:        "bad request",
			write:       func(w http.ResponseWriter) error { return WriteBadRequest(w, "Validation failed", details) },
			wantStatus:  http.StatusBadRequest,
			wantError:   "bad_request",
			wantMessage: "Validation failed",
			wantDetails: true,
		},
		{
			name:        "unauthorized default message",
			write:       func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			wantStatus:  http.StatusUnauthorized,
			wantError:   "unauthorized",
			wantMessage: "Authentication required",
		},
		{
			name:        "forbidden default message",
			write:       func(w http.ResponseWriter) error { return WriteForbidden(w, "") },
			wantStatus:  http.StatusForbidden,
			wantError:   "forbidden",
			wantMessage: "Access forbidden",
		},
		{
			name:        "not found",
			write:       func(w http.ResponseWriter) error { return WriteNotFound(w, "scope not found") },
			wantStatus:  http.StatusNotFound,
			wantError:   "not_found",
			wantMessage: "scope not found",
		},
		{
			name:        "conflict",
			write:       func(w http.ResponseWriter) error { return WriteConflict(w, "chain conflict", details) },
			wantStatus:  http.StatusConflict,
			wantError:   "conflict",
			wantMessage: "chain conflict",
			wantDetails: true,
		},
		{
			name:        "unprocessable",
			write:       func(w http.ResponseWriter) error { return WriteUnprocessable(w, "guardrails failed", details) },
			wantStatus:  http.StatusUnprocessableEntity,
			wantError:   "unprocessable_entity",
			wantMessage: "guardrails failed",
			wantDetails: true,
		},
		{
			name:        "internal default message",
			write:       func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			wantStatus:  http.StatusInternalServerError,
			wantError:   "internal_error",
			wantMessage: "Internal server error",
		},
		{
			name:        "service unavailable default message",
			write:       func(w http.ResponseWriter) error { return WriteServiceUnavailable(w, "") },
			wantStatus:  http.StatusServiceUnavailable,
			wantError:   "service_unavailable",
			wantMessage: "Service unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.wantStatus, w.Code)

			response := decodeError(t, w)
			assert.Equal(t, tt.wantError, response.Error)
			assert.Equal(t, tt.wantMessage, response.Message)
			if tt.wantDetails {
				assert.Equal(t, "rbac.role.deleted", response.Details["event_type"])
			} else {
				assert.Nil(t, response.Details)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		expectedErrorType string
	}{
		{"bad request", http.StatusBadRequest, "bad_request"},
		{"unauthorized", http.StatusUnauthorized, "unauthorized"},
		{"forbidden", http.StatusForbidden, "forbidden"},
		{"not found", http.StatusNotFound, "not_found"},
		{"conflict", http.StatusConflict, "conflict"},
		{"unprocessable", http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"unavailable", http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown status defaults to internal error", http.StatusTeapot, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			require.NoError(t, WriteError(w, tt.status, "message", nil))
			assert.Equal(t, tt.status, w.Code)

			response := decodeError(t, w)
			assert.Equal(t, tt.expectedErrorType, response.Error)
			assert.Equal(t, "message", response.Message)
		})
	}
}
