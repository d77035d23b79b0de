package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finlink/internal/domain/openfinance"
)

type CredentialFieldsProvider interface {
	CredentialFields(ctx context.Context, institutionID int) ([]openfinance.CredentialField, error)
}

type InstitutionHandler struct {
	fields CredentialFieldsProvider
	logger *zap.Logger
}

func NewInstitutionHandler(fields CredentialFieldsProvider, logger *zap.Logger) *InstitutionHandler {
	return &InstitutionHandler{fields: fields, logger: logger}
}

func (h *InstitutionHandler) Routes(r chi.Router) {
	r.Get("/institutions/{institutionID}/fields", h.HandleFields)
}

// HandleFields returns the credential form of one institution.
func (h *InstitutionHandler) HandleFields(w http.ResponseWriter, r *http.Request) {
	institutionID, err := strconv.Atoi(chi.URLParam(r, "institutionID"))
	if err != nil || institutionID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid institution id")
		return
	}

	fields, err := h.fields.CredentialFields(r.Context(), institutionID)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	if fields == nil {
		fields = []openfinance.CredentialField{}
	}
	writeJSON(w, http.StatusOK, fields)
}
