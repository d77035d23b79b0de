package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
	"finlink/internal/shared/auth"
)

const testSecret = "test-secret"

// MockFacade implements ConnectionFacade and CredentialFieldsProvider.
type MockFacade struct {
	ConnectFunc          func(ctx context.Context, userID int64, institutionID int, credentials map[string]string, products []string) (*openfinance.ConnectionHandle, error)
	SyncFunc             func(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error)
	ResumeOAuthFunc      func(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error)
	SubmitChallengeFunc  func(ctx context.Context, connectionID, value string) (connection.Status, error)
	DisconnectFunc       func(ctx context.Context, localID string) error
	CredentialFieldsFunc func(ctx context.Context, institutionID int) ([]openfinance.CredentialField, error)
}

func (m *MockFacade) Connect(ctx context.Context, userID int64, institutionID int, credentials map[string]string, products []string) (*openfinance.ConnectionHandle, error) {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, userID, institutionID, credentials, products)
	}
	return nil, nil
}

func (m *MockFacade) Sync(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error) {
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockFacade) ResumeOAuth(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error) {
	if m.ResumeOAuthFunc != nil {
		return m.ResumeOAuthFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockFacade) SubmitChallenge(ctx context.Context, connectionID, value string) (connection.Status, error) {
	if m.SubmitChallengeFunc != nil {
		return m.SubmitChallengeFunc(ctx, connectionID, value)
	}
	return "", nil
}

func (m *MockFacade) Disconnect(ctx context.Context, localID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, localID)
	}
	return nil
}

func (m *MockFacade) CredentialFields(ctx context.Context, institutionID int) ([]openfinance.CredentialField, error) {
	if m.CredentialFieldsFunc != nil {
		return m.CredentialFieldsFunc(ctx, institutionID)
	}
	return nil, nil
}

// MockConnectionRepo implements connection.Repository.
type MockConnectionRepo struct {
	UpsertFunc                func(ctx context.Context, c *connection.Connection) error
	GetByLocalIDFunc          func(ctx context.Context, localID string) (*connection.Connection, error)
	GetByConnectionIDFunc     func(ctx context.Context, connectionID string) (*connection.Connection, error)
	ListByUserIDFunc          func(ctx context.Context, userID int64) ([]*connection.Connection, error)
	DeleteFunc                func(ctx context.Context, localID string) error
	ListRefreshCandidatesFunc func(ctx context.Context, staleBefore time.Time) ([]*connection.Connection, error)
}

func (m *MockConnectionRepo) Upsert(ctx context.Context, c *connection.Connection) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, c)
	}
	return nil
}

func (m *MockConnectionRepo) GetByLocalID(ctx context.Context, localID string) (*connection.Connection, error) {
	if m.GetByLocalIDFunc != nil {
		return m.GetByLocalIDFunc(ctx, localID)
	}
	return nil, nil
}

func (m *MockConnectionRepo) GetByConnectionID(ctx context.Context, connectionID string) (*connection.Connection, error) {
	if m.GetByConnectionIDFunc != nil {
		return m.GetByConnectionIDFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockConnectionRepo) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	if m.ListByUserIDFunc != nil {
		return m.ListByUserIDFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConnectionRepo) Delete(ctx context.Context, localID string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, localID)
	}
	return nil
}

func (m *MockConnectionRepo) ListRefreshCandidates(ctx context.Context, staleBefore time.Time) ([]*connection.Connection, error) {
	if m.ListRefreshCandidatesFunc != nil {
		return m.ListRefreshCandidatesFunc(ctx, staleBefore)
	}
	return nil, nil
}

type MockAccountLister struct {
	ListByConnectionFunc func(ctx context.Context, connectionLocalID string) ([]*account.Account, error)
}

func (m *MockAccountLister) ListByConnection(ctx context.Context, connectionLocalID string) ([]*account.Account, error) {
	if m.ListByConnectionFunc != nil {
		return m.ListByConnectionFunc(ctx, connectionLocalID)
	}
	return nil, nil
}

// ownedBy serves a single connection from both lookups.
func ownedBy(c *connection.Connection) *MockConnectionRepo {
	return &MockConnectionRepo{
		GetByLocalIDFunc: func(ctx context.Context, localID string) (*connection.Connection, error) {
			if localID == c.LocalID {
				return c, nil
			}
			return nil, nil
		},
		GetByConnectionIDFunc: func(ctx context.Context, connectionID string) (*connection.Connection, error) {
			if connectionID == c.ConnectionID {
				return c, nil
			}
			return nil, nil
		},
	}
}

func testConnection(userID int64) *connection.Connection {
	return connection.New(userID, 201, "item-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func newTestRouter(facade *MockFacade, repo *MockConnectionRepo, accounts AccountLister) http.Handler {
	logger := zap.NewNop()
	return NewRouter(RouterConfig{
		Connections:  NewConnectionHandler(facade, connection.NewService(repo), accounts, logger),
		Institutions: NewInstitutionHandler(facade, logger),
		JWT:          auth.NewJWT(testSecret),
		Logger:       logger,
	})
}

// do sends an authenticated request; userID 0 sends none.
func do(t *testing.T, h http.Handler, method, path, body string, userID int64) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		token, err := auth.NewJWT(testSecret).Generate(userID, "user@example.com")
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
