// Package web holds the JSON response and request helpers shared by the
// storefront handlers.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Product   string `json:"product,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func WriteMessage(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, errorResponse{Error: message})
}

// WriteError renders err with the status of its kind. Errors outside the
// domain taxonomy are logged and reported as an opaque 500.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		logger.Error("unhandled error", "error", err)
		WriteMessage(w, logger, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := errorResponse{
		Error:   derr.Error(),
		Kind:    string(derr.Kind),
		Product: derr.Product,
	}
	if derr.Kind == domain.KindInsufficientStock && derr.Product != "" {
		available := derr.Available
		resp.Available = &available
	}

	WriteJSON(w, logger, StatusFor(derr.Kind), resp)
}

func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidQuantity,
		domain.KindQuantityCapExceeded,
		domain.KindMissingAddress,
		domain.KindMissingEmail,
		domain.KindInvalidEmail,
		domain.KindCartEmpty:
		return http.StatusBadRequest
	case domain.KindInsufficientStock:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindTransientFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
