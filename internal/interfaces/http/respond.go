package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/openfinance"
	ofclient "finlink/internal/infrastructure/openfinance"
	"finlink/internal/shared/resilience"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Details []fieldError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and reports false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if details := validateRequest(dst); len(details) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
		return false
	}
	return true
}

func validateRequest(obj any) []fieldError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Message: err.Error()}}
	}

	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return details
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var verrs *openfinance.ValidationErrors
	var verr *openfinance.ValidationError
	var rejected *openfinance.ChallengeRejectedError
	var aggErr *openfinance.AggregatorError
	var apiErr *ofclient.APIError

	switch {
	case errors.As(err, &verrs):
		details := make([]fieldError, 0, len(verrs.Errors))
		for _, fe := range verrs.Errors {
			details = append(details, fieldError{Field: fe.Field, Message: fe.Message})
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: details})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "validation failed",
			Details: []fieldError{{Field: verr.Field, Message: verr.Message}},
		})
	case errors.Is(err, connection.ErrNotFound):
		writeError(w, http.StatusNotFound, "connection not found")
	case errors.Is(err, connection.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, openfinance.ErrResumeMismatch),
		errors.Is(err, openfinance.ErrNoPendingChallenge),
		errors.Is(err, connection.ErrDuplicateConnection):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rejected):
		writeError(w, http.StatusUnprocessableEntity, rejected.Message)
	case errors.As(err, &aggErr), errors.As(err, &apiErr), resilience.IsOpen(err):
		logger.Warn("aggregator call failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "aggregator unavailable")
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
