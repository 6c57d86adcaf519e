// Package httpx holds the JSON envelope shared by every HTTP handler.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go-counsel/internal/domain"
)

type apiError struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteSuccess(w http.ResponseWriter, statusCode int, data any) {
	WriteJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

// WriteError maps err onto the taxonomy and writes the failure envelope.
func WriteError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	code := domain.Code(err)
	statusCode := StatusFor(code)
	body := apiError{Status: "error", Code: code, Message: domain.PublicMessage(err)}

	var blocked *domain.ContentBlockedError
	if errors.As(err, &blocked) {
		body.Category = blocked.Category
	}

	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"error", err.Error(),
	}
	if statusCode >= 500 {
		slog.Default().ErrorContext(r.Context(), "http operation failed", fields...)
	} else {
		slog.Default().WarnContext(r.Context(), "http operation failed", fields...)
	}
	WriteJSON(w, statusCode, body)
}

// WriteBadRequest reports malformed input that never reached a service.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, apiError{Status: "error", Code: "VALIDATION", Message: message})
}

func StatusFor(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "FORBIDDEN":
		return http.StatusForbidden
	case "CONFLICT":
		return http.StatusConflict
	case "VALIDATION":
		return http.StatusBadRequest
	case "CONTENT_BLOCKED":
		return http.StatusUnprocessableEntity
	case "TRIAL_EXPIRED":
		return http.StatusPaymentRequired
	case "UPSTREAM_FAILURE":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
