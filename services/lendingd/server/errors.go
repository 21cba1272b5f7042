package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"hedge/native/common"
	"hedge/native/lending"
)

// statusFor maps market errors to HTTP status codes. Unknown errors are
// reported as 500 with their message hidden.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, lending.ErrUnauthorized), errors.Is(err, lending.ErrInvalidOwner):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, lending.ErrMarketPaused), errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, lending.ErrMarketNotFound),
		errors.Is(err, lending.ErrPoolNotFound),
		errors.Is(err, lending.ErrPositionNotFound),
		errors.Is(err, lending.ErrAssetNotRegistered),
		errors.Is(err, lending.ErrPriceNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, lending.ErrMarketExists), errors.Is(err, lending.ErrPoolExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaAmountExceeded),
		errors.Is(err, common.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidMint),
		errors.Is(err, lending.ErrInvalidRiskPair),
		errors.Is(err, lending.ErrInvalidConfig),
		errors.Is(err, lending.ErrUnsupportedMode),
		errors.Is(err, lending.ErrFeedNotSet),
		errors.Is(err, lending.ErrExceedsMaxAssets):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, lending.ErrHealthCheckFailed),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientCollateral),
		errors.Is(err, lending.ErrPriceStale),
		errors.Is(err, lending.ErrPositionHealthy),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, lending.ErrTooManyPositions),
		errors.Is(err, lending.ErrExceedsMaxPositions),
		errors.Is(err, lending.ErrNegativeFeedPrice),
		errors.Is(err, lending.ErrMathOverflow),
		errors.Is(err, lending.ErrMathUnderflow):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeJSONError(w, status, errors.New(message))
}
