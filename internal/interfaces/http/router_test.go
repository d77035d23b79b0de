package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/metrics"
)

func TestHealthIsPublic(t *testing.T) {
	rr := do(t, newTestRouter(&MockFacade{}, &MockConnectionRepo{}, nil), http.MethodGet, "/health", "", 0)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newTestRouter(&MockFacade{}, &MockConnectionRepo{}, nil)

	rr := do(t, h, http.MethodGet, "/api/connections", "", 0)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/connections", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a bad token", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	h := NewRouter(RouterConfig{JWT: nil, Metrics: m, Logger: zap.NewNop()})

	m.IncSyncOutcome("synced")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("expected metrics output")
	}
}

func TestHandleFields(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		fieldsErr      error
		expectedStatus int
	}{
		{name: "Success", path: "/api/institutions/201/fields", expectedStatus: http.StatusOK},
		{name: "Non numeric id", path: "/api/institutions/abc/fields", expectedStatus: http.StatusBadRequest},
		{name: "Zero id", path: "/api/institutions/0/fields", expectedStatus: http.StatusBadRequest},
		{
			name:           "Unknown connector",
			path:           "/api/institutions/999/fields",
			fieldsErr:      &openfinance.AggregatorError{Operation: "get connector", Err: &ofclient.APIError{StatusCode: 404, Message: "not found"}},
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facade := &MockFacade{
				CredentialFieldsFunc: func(ctx context.Context, institutionID int) ([]openfinance.CredentialField, error) {
					if tt.fieldsErr != nil {
						return nil, tt.fieldsErr
					}
					return []openfinance.CredentialField{
						{Name: "cpf", Label: "CPF", Type: "number", Validation: `^\d{11}$`},
						{Name: "password", Label: "Senha", Type: "password"},
					}, nil
				},
			}

			rr := do(t, newTestRouter(facade, &MockConnectionRepo{}, nil), http.MethodGet, tt.path, "", 7)
			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if rr.Code != http.StatusOK {
				return
			}

			var fields []openfinance.CredentialField
			if err := json.NewDecoder(rr.Body).Decode(&fields); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if len(fields) != 2 || fields[0].Name != "cpf" {
				t.Errorf("fields = %+v", fields)
			}
		})
	}
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"field errors", &openfinance.ValidationErrors{Errors: []*openfinance.ValidationError{{Field: "cpf", Message: "is required"}}}, http.StatusBadRequest},
		{"single field error", &openfinance.ValidationError{Field: "token", Message: "is required"}, http.StatusBadRequest},
		{"not found", connection.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", connection.ErrNotFound), http.StatusNotFound},
		{"forbidden", connection.ErrForbidden, http.StatusForbidden},
		{"resume mismatch", openfinance.ErrResumeMismatch, http.StatusConflict},
		{"no pending challenge", openfinance.ErrNoPendingChallenge, http.StatusConflict},
		{"duplicate", connection.ErrDuplicateConnection, http.StatusConflict},
		{"challenge rejected", &openfinance.ChallengeRejectedError{ConnectionID: "item-1", Message: "wrong code"}, http.StatusUnprocessableEntity},
		{"aggregator", &openfinance.AggregatorError{Operation: "create item", Err: errors.New("boom")}, http.StatusBadGateway},
		{"api error", &ofclient.APIError{StatusCode: 503, Message: "down"}, http.StatusBadGateway},
		{"breaker open", fmt.Errorf("get item: %w", gobreaker.ErrOpenState), http.StatusBadGateway},
		{"unexpected", errors.New("db error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handleServiceError(rr, tt.err, zap.NewNop())

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			var resp errorResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if resp.Error == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	rr := httptest.NewRecorder()
	handleServiceError(rr, errors.New("pq: password authentication failed"), zap.NewNop())

	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Error != "internal error" {
		t.Errorf("error = %q", resp.Error)
	}
}
