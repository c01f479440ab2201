package http

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ErrorResponse — единый формат ошибок API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("encode response failed")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondDomainError переводит доменные ошибки в HTTP-статусы.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrOwnProduct):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrProductCodeTaken):
		respondError(w, http.StatusConflict, "code_taken", err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		respondError(w, http.StatusConflict, "request_in_flight", err.Error())
	case errors.Is(err, domain.ErrLineQtyInvalid),
		errors.Is(err, domain.ErrProductCodeRequired),
		errors.Is(err, domain.ErrProductPriceInvalid),
		errors.Is(err, domain.ErrProductStockInvalid):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
