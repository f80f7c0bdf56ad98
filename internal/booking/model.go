package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category separates the two isomorphic booking queues. General covers
// hospital-wide outpatient bookings; Specialty bookings belong to a named
// clinic service.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategorySpecialty Category = "specialty"
)

func (c Category) Valid() bool {
	return c == CategoryGeneral || c == CategorySpecialty
}

type Status string

const (
	StatusPending        Status = "pending"
	StatusVerified       Status = "verified"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

// SlotTemplate is a recurring weekly time box with a fixed capacity.
// Templates are never hard-deleted, only deactivated, so historical
// bookings keep a valid reference.
type SlotTemplate struct {
	ID        uuid.UUID
	Category  Category
	ServiceID *uuid.UUID // nil for general queue
	Weekday   time.Weekday
	StartTime string // "15:04"
	EndTime   string // "15:04"
	Capacity  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartOn resolves the template's start time on a concrete date in the
// given location.
func (t SlotTemplate) StartOn(date time.Time, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", t.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse template start time %q: %w", t.StartTime, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// Booking is one patient's occupancy of one slot instance. SlotNumber is
// the 1-based queue position within (template, date) and is never reused,
// even after earlier bookings are cancelled.
type Booking struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Category     Category
	ServiceID    *uuid.UUID
	TemplateID   uuid.UUID
	BookingDate  time.Time // civil date, midnight UTC
	SlotNumber   int
	Status       Status
	VerifiedBy   *string
	VerifiedAt   *time.Time
	BookedAt     time.Time
	CancelledAt  *time.Time
	CancelReason *string
	UpdatedAt    time.Time
}

type Patient struct {
	ID          uuid.UUID
	PatientCode string // e.g. MH2026000123
	Name        string
	Phone       *string
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClinicService is a named specialty clinic that owns its own templates.
type ClinicService struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlockedDate suppresses all bookings on one calendar date regardless of
// template activity.
type BlockedDate struct {
	Date      time.Time
	Reason    *string
	CreatedAt time.Time
}

// StatusCounts carries the per-status booking totals for one date.
type StatusCounts map[Status]int
