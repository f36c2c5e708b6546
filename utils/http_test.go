package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"selected_provider": "openai-primary"}

	err := WriteOK(w, data)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	err = json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)

	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "openai-primary", dataMap["selected_provider"])
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]interface{}{"ExpectedTokens": "ExpectedTokens must be greater than 0"}

	err := WriteBadRequest(w, "Validation failed", details)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	err = json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "bad_request", response.Error)
	assert.Equal(t, "Validation failed", response.Message)
	assert.Equal(t, "ExpectedTokens must be greater than 0", response.Details["ExpectedTokens"])
}

func TestWriteNotFound(t *testing.T) {
	t.Run("with custom message", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteNotFound(w, "unknown provider")
		require.NoError(t, err)

		assert.Equal(t, http.StatusNotFound, w.Code)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "not_found", response.Error)
		assert.Equal(t, "unknown provider", response.Message)
	})

	t.Run("with empty message", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteNotFound(w, "")
		require.NoError(t, err)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "Resource not found", response.Message)
	})
}

func TestWriteServiceUnavailable(t *testing.T) {
	t.Run("with custom message", func(t *testing.T) {
		w := httptest.NewRecorder()
		details := map[string]interface{}{"model": "gpt-x"}

		err := WriteServiceUnavailable(w, "no provider available", details)
		require.NoError(t, err)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "service_unavailable", response.Error)
		assert.Equal(t, "no provider available", response.Message)
		assert.Equal(t, "gpt-x", response.Details["model"])
	})

	t.Run("with empty message", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteServiceUnavailable(w, "", nil)
		require.NoError(t, err)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "Service unavailable", response.Message)
	})
}

func TestWriteInternalServerError(t *testing.T) {
	t.Run("with custom message", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteInternalServerError(w, "Database connection failed")
		require.NoError(t, err)

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "internal_error", response.Error)
		assert.Equal(t, "Database connection failed", response.Message)
	})

	t.Run("with empty message", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteInternalServerError(w, "")
		require.NoError(t, err)

		var response ErrorResponse
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)

		assert.Equal(t, "Internal server error", response.Message)
	})
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		message           string
		expectedErrorType string
	}{
		{
			name:              "bad request",
			status:            http.StatusBadRequest,
			message:           "Invalid input",
			expectedErrorType: "bad_request",
		},
		{
			name:              "not found",
			status:            http.StatusNotFound,
			message:           "Not found",
			expectedErrorType: "not_found",
		},
		{
			name:              "method not allowed",
			status:            http.StatusMethodNotAllowed,
			message:           "Method not allowed",
			expectedErrorType: "method_not_allowed",
		},
		{
			name:              "payload too large",
			status:            http.StatusRequestEntityTooLarge,
			message:           "Request body too large",
			expectedErrorType: "payload_too_large",
		},
		{
			name:              "bad gateway",
			status:            http.StatusBadGateway,
			message:           "Upstream failed",
			expectedErrorType: "bad_gateway",
		},
		{
			name:              "service unavailable",
			status:            http.StatusServiceUnavailable,
			message:           "All providers unavailable",
			expectedErrorType: "service_unavailable",
		},
		{
			name:              "gateway timeout",
			status:            http.StatusGatewayTimeout,
			message:           "Task timed out",
			expectedErrorType: "timeout",
		},
		{
			name:              "unknown status defaults to internal error",
			status:            http.StatusTeapot,
			message:           "I'm a teapot",
			expectedErrorType: "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := WriteError(w, tt.status, tt.message, nil)
			require.NoError(t, err)

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			err = json.NewDecoder(w.Body).Decode(&response)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedErrorType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}
