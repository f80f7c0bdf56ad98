package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// rejectionStatus maps the business rejection codes onto HTTP statuses.
var rejectionStatus = map[string]int{
	booking.ErrTemplateNotFound.Code:          http.StatusNotFound,
	booking.ErrDateNotBookable.Code:           http.StatusUnprocessableEntity,
	booking.ErrSlotFull.Code:                  http.StatusConflict,
	booking.ErrPatientAlreadyBooked.Code:      http.StatusConflict,
	booking.ErrInvalidStatusTransition.Code:   http.StatusConflict,
	booking.ErrCancellationWindowExpired.Code: http.StatusConflict,
	booking.ErrDuplicateTemplate.Code:         http.StatusConflict,
	booking.ErrInvalidTemplate.Code:           http.StatusBadRequest,
}

// handleServiceError translates service errors into responses. Business
// rejections carry their display message; anything else is an
// infrastructure failure and stays opaque.
func handleServiceError(w http.ResponseWriter, err error) {
	var rej *booking.Rejection
	if errors.As(err, &rej) {
		status, ok := rejectionStatus[rej.Code]
		if !ok {
			status = http.StatusConflict
		}
		writeError(w, status, rej.Code, rej.Message)
		return
	}

	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrBookingNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case errors.Is(err, booking.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, booking.ErrBlockedDateNotFound):
		writeError(w, http.StatusNotFound, "blocked_date_not_found", err.Error())
	case errors.Is(err, booking.ErrActorNotPermitted):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "the request could not be processed")
	}
}
