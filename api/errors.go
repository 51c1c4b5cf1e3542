package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/vaccine-stock/stock"
	"github.com/warp/vaccine-stock/vaccination"
)

// =============================================================================
// ERROR MAPPING
// =============================================================================

// Status codes:
//   - 400: validation errors, invalid dose/scope/quantity, gender mismatch
//   - 404: unknown lot, transfer, scope, vaccine, child, appointment, request
//   - 409: insufficient stock, duplicates, already processed, non-removable lot
//   - 503: optimistic retries exhausted (safe to retry)
//   - 500: anything else

// errorCode classifies err into an HTTP status and a stable code.
func errorCode(err error) (int, string) {
	var (
		validation validator.ValidationErrors
		syntax     *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &syntax), errors.As(err, &typeErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, stock.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, vaccination.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, stock.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, stock.ErrLotNotRemovable):
		return http.StatusConflict, "lot_not_removable"
	case errors.Is(err, stock.ErrConcurrentModification):
		return http.StatusServiceUnavailable, "concurrent_modification"
	case errors.Is(err, vaccination.ErrInvalidDose):
		return http.StatusBadRequest, "invalid_dose"
	case errors.Is(err, vaccination.ErrVaccineGenderMismatch):
		return http.StatusBadRequest, "vaccine_gender_mismatch"
	case errors.Is(err, stock.ErrInvalidTransferScope):
		return http.StatusBadRequest, "invalid_transfer_scope"
	case vaccination.IsClientError(err):
		return http.StatusBadRequest, "invalid_request"
	case vaccination.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeDomainError maps a domain error to its response.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := errorCode(err)
	resp := ErrorResponse{
		Error:     message,
		Details:   err.Error(),
		Code:      code,
		Retryable: stock.IsRetryable(err),
	}
	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		resp.Details = insufficient.UserMessage()
	}
	if status == http.StatusInternalServerError {
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
