package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/models"
	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/health"
	"github.com/upb/provider-orchestrator/services/providers"
	"github.com/upb/provider-orchestrator/utils"
)

func testProviders() []providers.Provider {
	return []providers.Provider{
		{ID: "A", Name: "OpenAI", Type: providers.TypeOpenAI, Endpoint: "https://a.example.com", Credential: "sk-secret", Models: []string{"gpt-x"}, CostPerToken: 0.00001, Priority: 1, Active: true},
		{ID: "B", Name: "Anthropic", Type: providers.TypeAnthropic, Endpoint: "https://b.example.com", Models: []string{"gpt-x"}, CostPerToken: 0.00003, Priority: 2, Active: true},
	}
}

func TestHandleListProviders(t *testing.T) {
	svc := new(MockOrchestrator)
	handler := NewProviderHandler(svc, nil, zap.NewNop())
	svc.On("Providers").Return(testProviders())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil)
	w := httptest.NewRecorder()

	handler.HandleListProviders(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk-secret", "credentials are never serialized")

	var response struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Data, 2)
	assert.Equal(t, "A", response.Data[0]["id"])

	capability := response.Data[1]["capability"].(map[string]interface{})
	assert.Equal(t, "x-api-key", capability["auth_header"])

	svc.AssertExpectations(t)
}

func TestHandleListStatuses(t *testing.T) {
	logger := zap.NewNop()
	statuses := []health.ProviderStatus{
		{ProviderID: "A", Status: health.StatusDown},
		{ProviderID: "B", Status: health.StatusOperational},
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedIDs    []string
	}{
		{"all", "", http.StatusOK, []string{"A", "B"}},
		{"filtered", "?status=down", http.StatusOK, []string{"A"}},
		{"no match", "?status=degraded", http.StatusOK, []string{}},
		{"invalid filter", "?status=sideways", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockOrchestrator)
			handler := NewProviderHandler(svc, nil, logger)
			svc.On("GetAllProviderStatuses", mock.Anything).Return(statuses).Maybe()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/status"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.HandleListStatuses(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedIDs == nil {
				return
			}

			var response struct {
				Data []health.ProviderStatus `json:"data"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

			ids := make([]string, 0, len(response.Data))
			for _, s := range response.Data {
				ids = append(ids, s.ProviderID)
			}
			assert.Equal(t, tt.expectedIDs, ids)
		})
	}
}

func TestHandleGetStatus(t *testing.T) {
	logger := zap.NewNop()

	t.Run("known provider", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewProviderHandler(svc, nil, logger)
		svc.On("GetProviderStatus", mock.Anything, "A").Return(health.ProviderStatus{
			ProviderID:   "A",
			Status:       health.StatusOperational,
			ResponseTime: 120 * time.Millisecond,
			SuccessRate:  1,
		}, nil)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/status", nil), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleGetStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data health.ProviderStatus `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, health.StatusOperational, response.Data.Status)
		assert.Equal(t, 120*time.Millisecond, response.Data.ResponseTime)

		svc.AssertExpectations(t)
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewProviderHandler(svc, nil, logger)
		svc.On("GetProviderStatus", mock.Anything, "ghost").Return(health.ProviderStatus{}, services.ErrUnknownProvider)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/ghost/status", nil), "id", "ghost")
		w := httptest.NewRecorder()

		handler.HandleGetStatus(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("provider id too long", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewProviderHandler(svc, nil, logger)

		id := strings.Repeat("x", maxProviderIDLength+1)
		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/x/status", nil), "id", id)
		w := httptest.NewRecorder()

		handler.HandleGetStatus(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "GetProviderStatus", mock.Anything, mock.Anything)
	})
}

func TestHandleReportOutcome(t *testing.T) {
	logger := zap.NewNop()

	t.Run("records outcome and returns updated status", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewProviderHandler(svc, nil, logger)
		svc.On("ReportOutcome", mock.Anything, "A", false, 250*time.Millisecond).Return(nil)
		svc.On("GetProviderStatus", mock.Anything, "A").Return(health.ProviderStatus{
			ProviderID:          "A",
			Status:              health.StatusDegraded,
			ConsecutiveFailures: 1,
		}, nil)

		body := `{"success":false,"response_time_ms":250}`
		req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/providers/A/outcome", strings.NewReader(body)), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleReportOutcome(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data health.ProviderStatus `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, health.StatusDegraded, response.Data.Status)

		svc.AssertExpectations(t)
	})

	t.Run("validation failures", func(t *testing.T) {
		tests := []struct {
			name  string
			body  string
			field string
		}{
			{"missing success", `{"response_time_ms":10}`, "Success"},
			{"negative response time", `{"success":true,"response_time_ms":-1}`, "ResponseTimeMs"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := new(MockOrchestrator)
				handler := NewProviderHandler(svc, nil, logger)

				req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/providers/A/outcome", strings.NewReader(tt.body)), "id", "A")
				w := httptest.NewRecorder()

				handler.HandleReportOutcome(w, req)

				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), tt.field)
				svc.AssertNotCalled(t, "ReportOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewProviderHandler(svc, nil, logger)
		svc.On("ReportOutcome", mock.Anything, "ghost", true, 10*time.Millisecond).Return(services.ErrUnknownProvider)

		req := withURLParam(httptest.NewRequest(http.MethodPost, "/api/v1/providers/ghost/outcome", strings.NewReader(`{"success":true,"response_time_ms":10}`)), "id", "ghost")
		w := httptest.NewRecorder()

		handler.HandleReportOutcome(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		svc.AssertNotCalled(t, "GetProviderStatus", mock.Anything, mock.Anything)
	})
}

func TestHandleListOutcomes(t *testing.T) {
	logger := zap.NewNop()

	t.Run("history disabled", func(t *testing.T) {
		handler := NewProviderHandler(new(MockOrchestrator), nil, logger)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/outcomes", nil), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleListOutcomes(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("default limit", func(t *testing.T) {
		svc := new(MockOrchestrator)
		history := new(MockOutcomeHistory)
		handler := NewProviderHandler(svc, history, logger)

		svc.On("Provider", "A").Return(testProviders()[0], true)
		outcomes := []*models.ProviderOutcome{
			models.NewProviderOutcome("A", true, 90*time.Millisecond),
			models.NewProviderOutcome("A", false, 400*time.Millisecond),
		}
		history.On("ListRecent", mock.Anything, "A", defaultOutcomeLimit).Return(outcomes, nil)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/outcomes", nil), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleListOutcomes(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data []models.ProviderOutcome `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		require.Len(t, response.Data, 2)
		assert.Equal(t, int64(90), response.Data[0].ResponseTimeMs)

		svc.AssertExpectations(t)
		history.AssertExpectations(t)
	})

	t.Run("explicit limit", func(t *testing.T) {
		svc := new(MockOrchestrator)
		history := new(MockOutcomeHistory)
		handler := NewProviderHandler(svc, history, logger)

		svc.On("Provider", "A").Return(testProviders()[0], true)
		history.On("ListRecent", mock.Anything, "A", 5).Return([]*models.ProviderOutcome{}, nil)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/outcomes?limit=5", nil), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleListOutcomes(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		history.AssertExpectations(t)
	})

	t.Run("invalid limits", func(t *testing.T) {
		for _, limit := range []string{"abc", "0", "1001"} {
			svc := new(MockOrchestrator)
			history := new(MockOutcomeHistory)
			handler := NewProviderHandler(svc, history, logger)
			svc.On("Provider", "A").Return(testProviders()[0], true)

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/outcomes?limit="+limit, nil), "id", "A")
			w := httptest.NewRecorder()

			handler.HandleListOutcomes(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "limit", response.Details["parameter"])
			assert.Contains(t, response.Message, "invalid input")
			history.AssertNotCalled(t, "ListRecent", mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc := new(MockOrchestrator)
		history := new(MockOutcomeHistory)
		handler := NewProviderHandler(svc, history, logger)
		svc.On("Provider", "ghost").Return(providers.Provider{}, false)

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/ghost/outcomes", nil), "id", "ghost")
		w := httptest.NewRecorder()

		handler.HandleListOutcomes(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("repository failure", func(t *testing.T) {
		svc := new(MockOrchestrator)
		history := new(MockOutcomeHistory)
		handler := NewProviderHandler(svc, history, logger)
		svc.On("Provider", "A").Return(testProviders()[0], true)
		history.On("ListRecent", mock.Anything, "A", defaultOutcomeLimit).Return(nil, errors.New("connection reset"))

		req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/providers/A/outcomes", nil), "id", "A")
		w := httptest.NewRecorder()

		handler.HandleListOutcomes(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection reset")
	})
}
