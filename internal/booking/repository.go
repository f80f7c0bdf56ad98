package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrServiceNotFound     = errors.New("clinic service not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrBlockedDateNotFound = errors.New("blocked date not found")
)

// NewBooking carries the fields the allocator fixes before insert. The
// slot number is chosen inside the allocation transaction, never by the
// caller.
type NewBooking struct {
	PatientID   uuid.UUID
	Category    Category
	ServiceID   *uuid.UUID
	TemplateID  uuid.UUID
	BookingDate time.Time
	SlotNumber  int
}

// StatusStamp carries the metadata written alongside a status change.
type StatusStamp struct {
	Actor        string
	At           time.Time
	CancelReason *string
}

// AllocationTx is the serialized view the allocator works in: the count,
// the patient-conflict check, and the insert all see and mutate the same
// transaction, which commits or rolls back as one.
type AllocationTx interface {
	CountActiveBookings(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error)
	// MaxSlotNumber spans every booking for the slot instance, cancelled
	// ones included, so numbers move strictly forward and are never reused.
	MaxSlotNumber(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error)
	PatientHasActiveBooking(ctx context.Context, patientID uuid.UUID, date time.Time) (bool, error)
	InsertBooking(ctx context.Context, nb NewBooking) (*Booking, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository contains all DB interactions needed by the booking core.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	CreatePatient(ctx context.Context, code, name string, phone *string) (*Patient, error)
	TouchPatientLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error)
	ListActiveServices(ctx context.Context) ([]ClinicService, error)

	GetTemplateByID(ctx context.Context, id uuid.UUID) (*SlotTemplate, error)
	CreateTemplate(ctx context.Context, t SlotTemplate) (*SlotTemplate, error)
	UpdateTemplate(ctx context.Context, t SlotTemplate) (*SlotTemplate, error)
	ActiveTemplates(ctx context.Context, weekday time.Weekday, category Category, serviceID *uuid.UUID) ([]SlotTemplate, error)

	// Read-path occupancy; may lag concurrent writes, never used to gate an insert.
	CountActiveBookings(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error)

	// BeginAllocation opens the serialized count-then-insert section.
	BeginAllocation(ctx context.Context) (AllocationTx, error)

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	// UpdateBookingStatus is a compare-and-swap: the row moves to the new
	// status only if its current status is one of from. A miss returns
	// ErrBookingNotFound.
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, stamp StatusStamp) (*Booking, error)
	ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error)
	ListOverdueActive(ctx context.Context, before time.Time) ([]Booking, error)
	CountBookingsByStatus(ctx context.Context, date time.Time) (StatusCounts, error)

	IsDateBlocked(ctx context.Context, date time.Time) (bool, error)
	CreateBlockedDate(ctx context.Context, date time.Time, reason *string) (*BlockedDate, error)
	DeleteBlockedDate(ctx context.Context, date time.Time) error
	ListBlockedDates(ctx context.Context, from, to time.Time) ([]BlockedDate, error)
}
