package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
	"github.com/medanta-hms/opd-queue-core/internal/calendar"
)

type RegisterPatientRequest struct {
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

type PatientResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientCode string     `json:"patient_code"`
	Name        string     `json:"name"`
	Phone       *string    `json:"phone,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type CreateBookingRequest struct {
	PatientID  string  `json:"patient_id"`
	Category   string  `json:"category"`
	ServiceID  *string `json:"service_id,omitempty"`
	Date       string  `json:"date"` // YYYY-MM-DD
	TemplateID string  `json:"template_id"`
}

type BookingResponse struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	Category     string     `json:"category"`
	ServiceID    *uuid.UUID `json:"service_id,omitempty"`
	TemplateID   uuid.UUID  `json:"template_id"`
	Date         string     `json:"date"`
	SlotNumber   int        `json:"slot_number"`
	Status       string     `json:"status"`
	VerifiedBy   *string    `json:"verified_by,omitempty"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	BookedAt     time.Time  `json:"booked_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
}

func toBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:           b.ID,
		PatientID:    b.PatientID,
		Category:     string(b.Category),
		ServiceID:    b.ServiceID,
		TemplateID:   b.TemplateID,
		Date:         b.BookingDate.Format("2006-01-02"),
		SlotNumber:   b.SlotNumber,
		Status:       string(b.Status),
		VerifiedBy:   b.VerifiedBy,
		VerifiedAt:   b.VerifiedAt,
		BookedAt:     b.BookedAt,
		CancelledAt:  b.CancelledAt,
		CancelReason: b.CancelReason,
	}
}

type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type TransitionBookingRequest struct {
	Status string `json:"status"`
}

type AvailabilityEntry struct {
	TemplateID uuid.UUID `json:"template_id"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	Capacity   int       `json:"capacity"`
	Booked     int       `json:"booked"`
	Available  int       `json:"available"`
}

func toAvailabilityEntry(a calendar.TemplateAvailability) AvailabilityEntry {
	return AvailabilityEntry{
		TemplateID: a.Template.ID,
		StartTime:  a.Template.StartTime,
		EndTime:    a.Template.EndTime,
		Capacity:   a.Capacity,
		Booked:     a.Booked,
		Available:  a.Available,
	}
}

type CreateTemplateRequest struct {
	Category  string  `json:"category"`
	ServiceID *string `json:"service_id,omitempty"`
	Weekday   int     `json:"weekday"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Capacity  int     `json:"capacity"`
}

type UpdateTemplateRequest struct {
	Weekday   *int    `json:"weekday,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
	Capacity  *int    `json:"capacity,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

type TemplateResponse struct {
	ID        uuid.UUID  `json:"id"`
	Category  string     `json:"category"`
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	Weekday   int        `json:"weekday"`
	StartTime string     `json:"start_time"`
	EndTime   string     `json:"end_time"`
	Capacity  int        `json:"capacity"`
	Active    bool       `json:"active"`
}

func toTemplateResponse(t *booking.SlotTemplate) TemplateResponse {
	return TemplateResponse{
		ID:        t.ID,
		Category:  string(t.Category),
		ServiceID: t.ServiceID,
		Weekday:   int(t.Weekday),
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
		Capacity:  t.Capacity,
		Active:    t.Active,
	}
}

type BlockDateRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
