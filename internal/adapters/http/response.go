package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/affiliate-settlement-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, contracts.SuccessResponse{Status: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, contracts.ErrorResponse{Status: "error", Code: code, Message: message})
}

// writeDomainError renders err, attaching the structured rejection when one is
// present.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := mapDomainError(err)
	resp := contracts.ErrorResponse{Status: "error", Code: code, Message: err.Error()}

	var conflict *domain.AttributionConflict
	var rejection *domain.DiscountRejection
	switch {
	case errors.As(err, &conflict):
		resp.Code = "attribution_exists"
		resp.Details = toAttributionResponse(conflict.Existing, time.Now().UTC())
	case errors.As(err, &rejection):
		resp.Code = "discount_rejected"
		resp.Details = rejection
	}
	if status == http.StatusInternalServerError {
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func mapDomainError(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrIdempotencyRequired):
		return http.StatusBadRequest, "idempotency_key_required"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidEnvelope):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrUnsupportedEventType), errors.Is(err, domain.ErrUnsupportedEventClass):
		return http.StatusBadRequest, "unsupported_event_type"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrTransferUnavailable), errors.Is(err, domain.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "dependency_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
