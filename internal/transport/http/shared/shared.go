// Package shared holds response helpers common to every HTTP handler so error
// envelopes and JSON encoding stay uniform.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "custodia/pkg/domain-errors"
)

// WriteJSON encodes a response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into the JSON error envelope. Unknown
// errors collapse to a generic 500 so internals never leak to clients.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *domainerrors.Error
	if !errors.As(err, &domainErr) {
		WriteJSON(w, http.StatusInternalServerError, errorBody{Error: string(domainerrors.CodeInternal)})
		return
	}
	WriteJSON(w, statusFor(domainErr.Code), errorBody{
		Error:   string(domainErr.Code),
		Message: domainErr.Message,
	})
}

func statusFor(code domainerrors.Code) int {
	switch code {
	case domainerrors.CodeNotFound:
		return http.StatusNotFound
	case domainerrors.CodeBadRequest, domainerrors.CodeValidation:
		return http.StatusBadRequest
	case domainerrors.CodeConflict:
		return http.StatusConflict
	case domainerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case domainerrors.CodeForbidden, domainerrors.CodePolicyViolation:
		return http.StatusForbidden
	case domainerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
