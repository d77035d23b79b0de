package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finlink/internal/domain/account"
	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
	"finlink/internal/shared/middleware"
)

// ConnectionFacade is the part of openfinance.Service the handlers drive.
type ConnectionFacade interface {
	Connect(ctx context.Context, userID int64, institutionID int, credentials map[string]string, products []string) (*openfinance.ConnectionHandle, error)
	Sync(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error)
	ResumeOAuth(ctx context.Context, connectionID string) (*openfinance.SyncSummary, error)
	SubmitChallenge(ctx context.Context, connectionID, value string) (connection.Status, error)
	Disconnect(ctx context.Context, localID string) error
}

// ConnectionReader answers read-only registry queries.
type ConnectionReader interface {
	GetForUser(ctx context.Context, localID string, userID int64) (*connection.Connection, error)
	GetByConnectionID(ctx context.Context, connectionID string) (*connection.Connection, error)
	List(ctx context.Context, userID int64) ([]*connection.Connection, error)
}

type AccountLister interface {
	ListByConnection(ctx context.Context, connectionLocalID string) ([]*account.Account, error)
}

type ConnectionHandler struct {
	facade      ConnectionFacade
	connections ConnectionReader
	accounts    AccountLister
	logger      *zap.Logger
}

func NewConnectionHandler(facade ConnectionFacade, connections ConnectionReader, accounts AccountLister, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		facade:      facade,
		connections: connections,
		accounts:    accounts,
		logger:      logger,
	}
}

type ConnectRequest struct {
	InstitutionID int               `json:"institutionId" validate:"required,gt=0"`
	Credentials   map[string]string `json:"credentials" validate:"required,min=1"`
	Products      []string          `json:"products" validate:"omitempty,dive,required"`
}

type MFARequest struct {
	Value string `json:"value" validate:"max=512"`
}

type MFAResponse struct {
	Status connection.Status `json:"status"`
}

// Routes registers connection and item routes on r. Callers are expected to
// have run the auth middleware.
func (h *ConnectionHandler) Routes(r chi.Router) {
	r.Route("/connections", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleConnect)
		r.Get("/{localID}", h.HandleGet)
		r.Delete("/{localID}", h.HandleDisconnect)
		r.Get("/{localID}/accounts", h.HandleAccounts)
	})
	r.Route("/items/{connectionID}", func(r chi.Router) {
		r.Post("/sync", h.HandleSync)
		r.Post("/mfa", h.HandleMFA)
		r.Post("/oauth/resume", h.HandleResumeOAuth)
	})
}

// HandleConnect submits credentials and drives the new connection as far as
// it goes without user input.
func (h *ConnectionHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	handle, err := h.facade.Connect(r.Context(), userID, req.InstitutionID, req.Credentials, req.Products)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *ConnectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conns, err := h.connections.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	if conns == nil {
		conns = []*connection.Connection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := h.connections.GetForUser(r.Context(), chi.URLParam(r, "localID"), userID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *ConnectionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	conn, err := h.connections.GetForUser(r.Context(), chi.URLParam(r, "localID"), userID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	if err := h.facade.Disconnect(r.Context(), conn.LocalID); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAccounts lists the accounts reconciled for one connection.
func (h *ConnectionHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.accounts == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	conn, err := h.connections.GetForUser(r.Context(), chi.URLParam(r, "localID"), userID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	accounts, err := h.accounts.ListByConnection(r.Context(), conn.LocalID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *ConnectionHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedItem(w, r)
	if !ok {
		return
	}

	summary, err := h.facade.Sync(r.Context(), conn.ConnectionID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleMFA forwards the user's answer to the pending challenge.
func (h *ConnectionHandler) HandleMFA(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedItem(w, r)
	if !ok {
		return
	}

	var req MFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	status, err := h.facade.SubmitChallenge(r.Context(), conn.ConnectionID, req.Value)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, MFAResponse{Status: status})
}

// HandleResumeOAuth is called once the user returns from the bank's consent page.
func (h *ConnectionHandler) HandleResumeOAuth(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.ownedItem(w, r)
	if !ok {
		return
	}

	summary, err := h.facade.ResumeOAuth(r.Context(), conn.ConnectionID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ownedItem resolves {connectionID} and checks it belongs to the caller.
func (h *ConnectionHandler) ownedItem(w http.ResponseWriter, r *http.Request) (*connection.Connection, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return nil, false
	}

	conn, err := h.connections.GetByConnectionID(r.Context(), chi.URLParam(r, "connectionID"))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return nil, false
	}
	if conn.UserID != userID {
		handleServiceError(w, connection.ErrForbidden, h.logger)
		return nil, false
	}
	return conn, true
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return userID, true
}
