package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/provider-orchestrator/services"
	"github.com/upb/provider-orchestrator/services/orchestrator"
	"github.com/upb/provider-orchestrator/services/routing"
	"github.com/upb/provider-orchestrator/utils"
)

func TestHandleRoute(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns decision", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewRoutingHandler(svc, logger)

		expected := routing.Request{
			UserID:         "user-1",
			Model:          "gpt-x",
			Prompt:         "hello",
			ExpectedTokens: 1000,
			Urgency:        routing.UrgencyLow,
		}
		svc.On("RouteRequest", mock.Anything, expected).Return(&routing.Decision{
			ID:               "d-1",
			SelectedProvider: "A",
			EstimatedCost:    0.01,
			Alternatives:     []string{"B"},
		}, nil)

		body, _ := json.Marshal(expected)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/route", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()

		handler.HandleRoute(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data routing.Decision `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "A", response.Data.SelectedProvider)
		assert.Equal(t, []string{"B"}, response.Data.Alternatives)
		assert.InDelta(t, 0.01, response.Data.EstimatedCost, 1e-9)

		svc.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewRoutingHandler(svc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader("{not json"))
		w := httptest.NewRecorder()

		handler.HandleRoute(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "RouteRequest", mock.Anything, mock.Anything)
	})

	t.Run("chunked body over the size limit", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewRoutingHandler(svc, logger)

		body := `{"user_id":"user-1","model":"gpt-x","prompt":"a prompt that does not fit","expected_tokens":10}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(body))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		req.Body = http.MaxBytesReader(w, req.Body, 16)

		handler.HandleRoute(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "payload_too_large")
		svc.AssertNotCalled(t, "RouteRequest", mock.Anything, mock.Anything)
	})

	t.Run("service errors map to status codes", func(t *testing.T) {
		tests := []struct {
			name           string
			err            error
			expectedStatus int
		}{
			{"invalid request", services.ErrInvalidRequest.WithDetail("fields", map[string]string{"UserID": "UserID is required"}), http.StatusBadRequest},
			{"no provider", services.ErrNoProviderAvailable, http.StatusServiceUnavailable},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := new(MockOrchestrator)
				handler := NewRoutingHandler(svc, logger)
				svc.On("RouteRequest", mock.Anything, mock.Anything).Return(nil, tt.err)

				req := httptest.NewRequest(http.MethodPost, "/api/v1/route", strings.NewReader(`{"model":"gpt-x"}`))
				w := httptest.NewRecorder()

				handler.HandleRoute(w, req)

				assert.Equal(t, tt.expectedStatus, w.Code)
				svc.AssertExpectations(t)
			})
		}
	})
}

func TestHandleRouteBatch(t *testing.T) {
	logger := zap.NewNop()

	t.Run("returns ordered results with counts", func(t *testing.T) {
		svc := new(MockOrchestrator)
		handler := NewRoutingHandler(svc, logger)

		items := []orchestrator.BatchItem{
			{Index: 0, Decision: &routing.Decision{ID: "d-0", SelectedProvider: "A"}},
			{Index: 1, Error: "no provider available", Err: services.ErrNoProviderAvailable},
		}
		svc.On("RouteBatch", mock.Anything, mock.MatchedBy(func(reqs []routing.Request) bool {
			return len(reqs) == 2
		})).Return(items)

		body := `{"requests":[{"user_id":"u","model":"gpt-x","expected_tokens":10},{"user_id":"u","model":"nope","expected_tokens":10}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/route/batch", strings.NewReader(body))
		w := httptest.NewRecorder()

		handler.HandleRouteBatch(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data struct {
				Results []struct {
					Index    int               `json:"index"`
					Decision *routing.Decision `json:"decision"`
					Error    string            `json:"error"`
				} `json:"results"`
				Succeeded int `json:"succeeded"`
				Failed    int `json:"failed"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))

		require.Len(t, response.Data.Results, 2)
		assert.Equal(t, "A", response.Data.Results[0].Decision.SelectedProvider)
		assert.Nil(t, response.Data.Results[1].Decision)
		assert.Equal(t, "no provider available", response.Data.Results[1].Error)
		assert.Equal(t, 1, response.Data.Succeeded)
		assert.Equal(t, 1, response.Data.Failed)

		svc.AssertExpectations(t)
	})

	t.Run("rejects bad batches", func(t *testing.T) {
		oversized := BatchRouteRequest{Requests: make([]routing.Request, maxBatchSize+1)}
		oversizedBody, _ := json.Marshal(oversized)

		tests := []struct {
			name string
			body string
		}{
			{"malformed", "[}"},
			{"empty", `{"requests":[]}`},
			{"too large", string(oversizedBody)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc := new(MockOrchestrator)
				handler := NewRoutingHandler(svc, logger)

				req := httptest.NewRequest(http.MethodPost, "/api/v1/route/batch", strings.NewReader(tt.body))
				w := httptest.NewRecorder()

				handler.HandleRouteBatch(w, req)

				assert.Equal(t, http.StatusBadRequest, w.Code)

				var response utils.ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "bad_request", response.Error)
				svc.AssertNotCalled(t, "RouteBatch", mock.Anything, mock.Anything)
			})
		}
	})
}
