package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/infra/adapters/gateway"
)

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeValidation(w http.ResponseWriter, err error) {
	if fields, ok := fieldErrors(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Fields: fields})
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrNoPendingGateway),
		errors.Is(err, domain.ErrUnknownGateway):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCheckoutInProgress),
		errors.Is(err, domain.ErrCloseDuringFinalize),
		errors.Is(err, domain.ErrNotTerminal),
		errors.Is(err, gateway.ErrDuplicateEvent):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeError(w, status, msg)
}
