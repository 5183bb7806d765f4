package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: message, Code: code})
}

// writeJSON writes a JSON response with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// providerStatus maps auth/* codes to HTTP statuses. Unlisted codes are 502.
var providerStatus = map[string]int{
	identity.CodeInvalidCredential:    http.StatusUnauthorized,
	identity.CodeUserNotFound:         http.StatusUnauthorized,
	identity.CodeWrongPassword:        http.StatusUnauthorized,
	identity.CodeUserDisabled:         http.StatusForbidden,
	identity.CodeOperationNotAllowed:  http.StatusForbidden,
	identity.CodeEmailAlreadyInUse:    http.StatusConflict,
	identity.CodeWeakPassword:         http.StatusBadRequest,
	identity.CodeInvalidEmail:         http.StatusBadRequest,
	identity.CodeMissingEmail:         http.StatusBadRequest,
	identity.CodeMissingPassword:      http.StatusBadRequest,
	identity.CodeTooManyRequests:      http.StatusTooManyRequests,
	identity.CodeInvalidIDToken:       http.StatusUnauthorized,
	identity.CodeTokenExpired:         http.StatusUnauthorized,
	identity.CodeInternalError:        http.StatusInternalServerError,
	identity.CodeNetworkRequestFailed: http.StatusBadGateway,
}

// writeFlowError writes the response for a failed auth submission.
func writeFlowError(w http.ResponseWriter, err error) {
	var (
		ve *authflow.ValidationError
		pe *authflow.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusUnprocessableEntity, ve.Message, "validation_error")
	case errors.As(err, &pe):
		status, ok := providerStatus[pe.Code]
		if !ok {
			status = http.StatusBadGateway
		}
		code := pe.Code
		if code == "" {
			code = "provider_error"
		}
		writeError(w, status, pe.Message, code)
	case errors.Is(err, authflow.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error(), "in_flight")
	case errors.Is(err, authflow.ErrCompleted):
		writeError(w, http.StatusConflict, err.Error(), "completed")
	case errors.Is(err, authflow.ErrReleased):
		writeError(w, http.StatusConflict, err.Error(), "released")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "internal_error")
	}
}
