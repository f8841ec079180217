package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vin-jex/captain-dispatch/internal/dispatch"
	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/throttle"
)

func statusForReason(reason string) int {
	switch reason {
	case string(lease.ReasonNotFound):
		return http.StatusNotFound
	case string(lease.ReasonNotAvailable):
		return http.StatusGone
	case string(lease.ReasonLocked), string(lease.ReasonNoLease):
		return http.StatusConflict
	case string(lease.ReasonTooManyAttempts), string(lease.ReasonCapacityExceeded):
		return http.StatusUnprocessableEntity
	case string(throttle.ReasonCooldownActive), string(throttle.ReasonConcurrencyCapReached):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeRejection reports a refused dispatch operation. Retry-After is set
// whenever the caller can know how long to wait.
func writeRejection(writer http.ResponseWriter, result dispatch.Result) {
	wait := result.WaitMs
	if wait == 0 && result.Reason == string(lease.ReasonLocked) {
		wait = result.RemainingMs
	}
	if wait > 0 {
		writer.Header().Set("Retry-After", strconv.FormatInt((wait+999)/1000, 10))
	}

	writeJSON(writer, statusForReason(result.Reason), ErrorResponse{
		Reason:      result.Reason,
		Message:     result.Message,
		WaitMs:      result.WaitMs,
		RemainingMs: result.RemainingMs,
		HolderName:  result.HolderName,
	})
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}
