package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medanta-hms/opd-queue-core/internal/audit"
	"github.com/medanta-hms/opd-queue-core/internal/metrics"
	redisclient "github.com/medanta-hms/opd-queue-core/internal/redis"
	"github.com/medanta-hms/opd-queue-core/pkg/logging"
)

const (
	ActionBookingCreated   = "booking.created"
	ActionBookingVerified  = "booking.verified"
	ActionBookingMoved     = "booking.status_changed"
	ActionBookingCancelled = "booking.cancelled"
	ActionTemplateCreated  = "template.created"
	ActionTemplateUpdated  = "template.updated"
	ActionDateBlocked      = "calendar.date_blocked"
	ActionDateUnblocked    = "calendar.date_unblocked"
)

// ErrActorNotPermitted is returned when a patient actor attempts a
// staff-only transition or touches another patient's booking.
var ErrActorNotPermitted = errors.New("actor not permitted for this operation")

type Role string

const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
)

// Actor is the caller identity supplied by the session provider. The
// core trusts it; it is only validated for role, never authenticated
// here.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// DatePolicy is the calendar gate the allocator consults. Satisfied by
// calendar.Policy.
type DatePolicy interface {
	Now() time.Time
	Today() time.Time
	Location() *time.Location
	CheckTemplateDate(ctx context.Context, date time.Time, tmpl *SlotTemplate) (bool, error)
}

type ServiceConfig struct {
	LockRetries    int
	LockRetryDelay time.Duration
	CancelCutoff   time.Duration
}

// Service is the sole authority for turning a booking request into a
// persisted booking with a correct slot number.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	policy  DatePolicy
	sink    audit.Sink
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	cfg     ServiceConfig
}

func NewService(repo Repository, locker redisclient.Locker, policy DatePolicy, sink audit.Sink, m *metrics.BookingMetrics, logger *logging.Logger, cfg ServiceConfig) *Service {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.LockRetries < 1 {
		cfg.LockRetries = 1
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		policy:  policy,
		sink:    sink,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
	}
}

type AllocateParams struct {
	PatientID  uuid.UUID
	Category   Category
	ServiceID  *uuid.UUID
	Date       time.Time
	TemplateID uuid.UUID
}

// Allocate assigns the next sequential queue number for the requested
// slot instance, or rejects the request. The count-then-insert sequence
// runs inside a per-(template, date) lock so two concurrent requests can
// never both pass a capacity check with one seat left.
func (s *Service) Allocate(ctx context.Context, p AllocateParams) (*Booking, error) {
	started := time.Now()
	b, err := s.allocate(ctx, p)
	s.metrics.ObserveAllocationLatency(time.Since(started).Seconds())
	s.metrics.ObserveAllocation(string(p.Category), allocationOutcome(err))
	return b, err
}

func (s *Service) allocate(ctx context.Context, p AllocateParams) (*Booking, error) {
	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	tmpl, err := s.repo.GetTemplateByID(ctx, p.TemplateID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load template: %w", err)
	}
	if !tmpl.Active || !templateMatches(tmpl, p) {
		return nil, ErrTemplateNotFound
	}

	ok, err := s.policy.CheckTemplateDate(ctx, p.Date, tmpl)
	if err != nil {
		return nil, fmt.Errorf("check date: %w", err)
	}
	if !ok {
		return nil, ErrDateNotBookable
	}

	var created *Booking
	attempt := func() error {
		return s.locker.WithSlotLock(ctx, tmpl.ID, p.Date, func(lockCtx context.Context) error {
			tx, err := s.repo.BeginAllocation(lockCtx)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(lockCtx) }()

			count, err := tx.CountActiveBookings(lockCtx, tmpl.ID, p.Date)
			if err != nil {
				return fmt.Errorf("count bookings: %w", err)
			}
			if count >= tmpl.Capacity {
				return ErrSlotFull
			}

			taken, err := tx.PatientHasActiveBooking(lockCtx, p.PatientID, p.Date)
			if err != nil {
				return fmt.Errorf("check patient conflict: %w", err)
			}
			if taken {
				return ErrPatientAlreadyBooked
			}

			// Capacity looks at active bookings only; the queue number keeps
			// counting past cancellations so it is never handed out twice.
			maxSlot, err := tx.MaxSlotNumber(lockCtx, tmpl.ID, p.Date)
			if err != nil {
				return fmt.Errorf("max slot number: %w", err)
			}

			b, err := tx.InsertBooking(lockCtx, NewBooking{
				PatientID:   p.PatientID,
				Category:    tmpl.Category,
				ServiceID:   tmpl.ServiceID,
				TemplateID:  tmpl.ID,
				BookingDate: p.Date,
				SlotNumber:  maxSlot + 1,
			})
			if err != nil {
				return err
			}

			if err := tx.Commit(lockCtx); err != nil {
				return err
			}

			created = b
			return nil
		})
	}

	var lockWait time.Duration
	for i := 0; ; i++ {
		err = attempt()
		if !errors.Is(err, redisclient.ErrLockNotAcquired) || i >= s.cfg.LockRetries-1 {
			break
		}
		lockWait += s.cfg.LockRetryDelay
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.LockRetryDelay):
		}
	}
	s.metrics.ObserveLockWait(lockWait.Seconds())

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Lost the race past the retry budget; the caller sees the
			// same outcome as losing on capacity.
			return nil, ErrSlotFull
		}
		return nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Actor:      p.PatientID.String(),
		ActionType: ActionBookingCreated,
		EntityType: "booking",
		EntityID:   created.ID.String(),
		Details: map[string]any{
			"template_id":  tmpl.ID.String(),
			"booking_date": p.Date.Format("2006-01-02"),
			"slot_number":  created.SlotNumber,
			"category":     string(tmpl.Category),
		},
	})

	return created, nil
}

func templateMatches(tmpl *SlotTemplate, p AllocateParams) bool {
	if p.Category != "" && p.Category != tmpl.Category {
		return false
	}
	if p.ServiceID != nil {
		if tmpl.ServiceID == nil || *tmpl.ServiceID != *p.ServiceID {
			return false
		}
	}
	return true
}

func allocationOutcome(err error) string {
	if err == nil {
		return "allocated"
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Code
	}
	return "error"
}

// Cancel terminates a booking early. Patients may cancel only their own
// pending booking and only up to the configured cutoff before the slot
// starts; staff may cancel pending or verified bookings at any time.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, actor Actor, reason string) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	from := []Status{StatusPending, StatusVerified}
	if !actor.IsStaff() {
		if b.PatientID.String() != actor.ID {
			return nil, ErrActorNotPermitted
		}
		if b.Status != StatusPending {
			return nil, ErrInvalidStatusTransition
		}
		expired, err := s.cancelWindowExpired(ctx, b)
		if err != nil {
			return nil, err
		}
		if expired {
			return nil, ErrCancellationWindowExpired
		}
		from = []Status{StatusPending}
	}

	if !CanTransition(b.Status, StatusCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, from, StatusCancelled, StatusStamp{
		Actor:        actor.ID,
		At:           s.policy.Now(),
		CancelReason: reasonPtr,
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Compare-and-swap miss: the status moved under us.
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.metrics.ObserveTransition(string(StatusCancelled))
	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: ActionBookingCancelled,
		EntityType: "booking",
		EntityID:   updated.ID.String(),
		Details: map[string]any{
			"reason": reason,
			"role":   string(actor.Role),
		},
	})

	return updated, nil
}

func (s *Service) cancelWindowExpired(ctx context.Context, b *Booking) (bool, error) {
	tmpl, err := s.repo.GetTemplateByID(ctx, b.TemplateID)
	if err != nil {
		return false, fmt.Errorf("load template for cutoff: %w", err)
	}
	start, err := tmpl.StartOn(b.BookingDate, s.policy.Location())
	if err != nil {
		return false, err
	}
	return s.policy.Now().After(start.Add(-s.cfg.CancelCutoff)), nil
}

// Transition advances a booking through the visit lifecycle. Staff only;
// cancellation goes through Cancel so its window rules apply.
func (s *Service) Transition(ctx context.Context, bookingID uuid.UUID, actor Actor, to Status) (*Booking, error) {
	if !actor.IsStaff() {
		return nil, ErrActorNotPermitted
	}
	if !ValidStatus(to) || to == StatusCancelled {
		return nil, ErrInvalidStatusTransition
	}

	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, to) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateBookingStatus(ctx, b.ID, []Status{b.Status}, to, StatusStamp{
		Actor: actor.ID,
		At:    s.policy.Now(),
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("transition booking: %w", err)
	}

	action := ActionBookingMoved
	if to == StatusVerified {
		action = ActionBookingVerified
	}
	s.metrics.ObserveTransition(string(to))
	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: action,
		EntityType: "booking",
		EntityID:   updated.ID.String(),
		Details: map[string]any{
			"from": string(b.Status),
			"to":   string(to),
		},
	})

	return updated, nil
}

// GetBooking retrieves one booking by ID.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetBookingByID(ctx, id)
}

// ListBookingsByPatient retrieves a patient's bookings, newest first.
func (s *Service) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListBookingsByPatient(ctx, patientID, limit, offset)
}

// StatusSummary returns per-status booking counts for one date.
func (s *Service) StatusSummary(ctx context.Context, date time.Time) (StatusCounts, error) {
	return s.repo.CountBookingsByStatus(ctx, date)
}

// CloseOverdue marks every still-active booking from past service days as
// no-show under the given system actor. Called by the day-close worker.
func (s *Service) CloseOverdue(ctx context.Context, actor Actor) (int, error) {
	overdue, err := s.repo.ListOverdueActive(ctx, s.policy.Today())
	if err != nil {
		return 0, fmt.Errorf("list overdue bookings: %w", err)
	}

	closed := 0
	for _, b := range overdue {
		_, err := s.repo.UpdateBookingStatus(ctx, b.ID, []Status{StatusPending, StatusVerified}, StatusNoShow, StatusStamp{
			Actor: actor.ID,
			At:    s.policy.Now(),
		})
		if err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				continue
			}
			s.logger.Error("day-close update failed", "booking_id", b.ID, "error", err)
			continue
		}
		closed++
		s.metrics.ObserveTransition(string(StatusNoShow))
		s.sink.Emit(ctx, audit.Event{
			Actor:      actor.ID,
			ActionType: ActionBookingMoved,
			EntityType: "booking",
			EntityID:   b.ID.String(),
			Details: map[string]any{
				"from": string(b.Status),
				"to":   string(StatusNoShow),
			},
		})
	}
	return closed, nil
}
