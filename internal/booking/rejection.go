package booking

// Rejection is an expected business refusal. It is returned as an error
// value so callers can errors.Is against the exported reasons, but it is
// never fatal: the message is safe to show to the requester and never
// describes storage internals.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string { return r.Message }

var (
	ErrTemplateNotFound = &Rejection{
		Code:    "template_not_found",
		Message: "the selected time slot does not exist or is no longer offered",
	}
	ErrDateNotBookable = &Rejection{
		Code:    "date_not_bookable",
		Message: "bookings are not open for the selected date",
	}
	ErrSlotFull = &Rejection{
		Code:    "slot_full",
		Message: "the selected time slot is fully booked",
	}
	ErrPatientAlreadyBooked = &Rejection{
		Code:    "patient_already_booked",
		Message: "the patient already holds an active booking on this date",
	}
	ErrInvalidStatusTransition = &Rejection{
		Code:    "invalid_status_transition",
		Message: "the booking cannot move to the requested status",
	}
	ErrCancellationWindowExpired = &Rejection{
		Code:    "cancellation_window_expired",
		Message: "the booking can no longer be cancelled this close to its start time",
	}
	ErrDuplicateTemplate = &Rejection{
		Code:    "template_duplicate",
		Message: "an active slot already exists for this clinic, weekday and start time",
	}
	ErrInvalidTemplate = &Rejection{
		Code:    "template_invalid",
		Message: "the slot definition is invalid",
	}
)
