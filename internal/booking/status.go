package booking

// transitions is the full visit lifecycle. Terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:        {StatusVerified, StatusCancelled, StatusNoShow},
	StatusVerified:       {StatusInConsultation, StatusCancelled, StatusNoShow},
	StatusInConsultation: {StatusCompleted},
}

var allStatuses = map[Status]bool{
	StatusPending:        true,
	StatusVerified:       true,
	StatusInConsultation: true,
	StatusCompleted:      true,
	StatusCancelled:      true,
	StatusNoShow:         true,
}

func ValidStatus(s Status) bool {
	return allStatuses[s]
}

// CanTransition reports whether the lifecycle permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0 && allStatuses[s]
}

// IsActive reports whether a booking in this status still occupies its
// slot. Cancelled and no-show bookings free capacity; completed bookings
// keep their slot number for the day's history.
func IsActive(s Status) bool {
	return s != StatusCancelled && s != StatusNoShow
}

// ActiveStatuses returns the statuses counted against capacity and
// against the one-booking-per-patient-per-day rule.
func ActiveStatuses() []Status {
	return []Status{StatusPending, StatusVerified, StatusInConsultation, StatusCompleted}
}
