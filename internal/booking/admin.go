package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medanta-hms/opd-queue-core/internal/audit"
)

const (
	MinCapacity = 1
	MaxCapacity = 500
)

// TemplateInput is the staff-supplied definition of a recurring slot.
type TemplateInput struct {
	Category  Category
	ServiceID *string // uuid string, required for specialty
	Weekday   int
	StartTime string
	EndTime   string
	Capacity  int
}

func validateTemplateInput(in TemplateInput) error {
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTemplate, in.Category)
	}
	if in.Category == CategorySpecialty && in.ServiceID == nil {
		return fmt.Errorf("%w: specialty slots need a clinic service", ErrInvalidTemplate)
	}
	if in.Category == CategoryGeneral && in.ServiceID != nil {
		return fmt.Errorf("%w: general slots take no clinic service", ErrInvalidTemplate)
	}
	if in.Weekday < 0 || in.Weekday > 6 {
		return fmt.Errorf("%w: weekday must be 0-6", ErrInvalidTemplate)
	}
	if in.Capacity < MinCapacity || in.Capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity must be between %d and %d", ErrInvalidTemplate, MinCapacity, MaxCapacity)
	}
	start, err := time.Parse("15:04", in.StartTime)
	if err != nil {
		return fmt.Errorf("%w: start time must be HH:MM", ErrInvalidTemplate)
	}
	end, err := time.Parse("15:04", in.EndTime)
	if err != nil {
		return fmt.Errorf("%w: end time must be HH:MM", ErrInvalidTemplate)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end time must follow start time", ErrInvalidTemplate)
	}
	return nil
}

// CreateTemplate defines a new recurring slot. Staff only.
func (s *Service) CreateTemplate(ctx context.Context, actor Actor, in TemplateInput) (*SlotTemplate, error) {
	if !actor.IsStaff() {
		return nil, ErrActorNotPermitted
	}
	if err := validateTemplateInput(in); err != nil {
		return nil, err
	}

	tmpl := SlotTemplate{
		Category:  in.Category,
		Weekday:   time.Weekday(in.Weekday),
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Capacity:  in.Capacity,
	}
	if in.ServiceID != nil {
		svcID, err := uuid.Parse(*in.ServiceID)
		if err != nil {
			return nil, ErrServiceNotFound
		}
		svc, err := s.repo.GetServiceByID(ctx, svcID)
		if err != nil {
			return nil, err
		}
		if !svc.Active {
			return nil, ErrServiceNotFound
		}
		tmpl.ServiceID = &svc.ID
	}

	created, err := s.repo.CreateTemplate(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: ActionTemplateCreated,
		EntityType: "slot_template",
		EntityID:   created.ID.String(),
		Details: map[string]any{
			"category":   string(created.Category),
			"weekday":    int(created.Weekday),
			"start_time": created.StartTime,
			"capacity":   created.Capacity,
		},
	})
	return created, nil
}

// TemplateUpdate carries the editable fields; nil means unchanged.
// Setting Active to false is the only way a template leaves service —
// templates are never hard-deleted.
type TemplateUpdate struct {
	Weekday   *int
	StartTime *string
	EndTime   *string
	Capacity  *int
	Active    *bool
}

// UpdateTemplate edits or deactivates a recurring slot. Staff only.
func (s *Service) UpdateTemplate(ctx context.Context, actor Actor, id string, upd TemplateUpdate) (*SlotTemplate, error) {
	if !actor.IsStaff() {
		return nil, ErrActorNotPermitted
	}

	tmplID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrTemplateNotFound
	}
	tmpl, err := s.repo.GetTemplateByID(ctx, tmplID)
	if err != nil {
		return nil, err
	}

	if upd.Weekday != nil {
		tmpl.Weekday = time.Weekday(*upd.Weekday)
	}
	if upd.StartTime != nil {
		tmpl.StartTime = *upd.StartTime
	}
	if upd.EndTime != nil {
		tmpl.EndTime = *upd.EndTime
	}
	if upd.Capacity != nil {
		tmpl.Capacity = *upd.Capacity
	}
	if upd.Active != nil {
		tmpl.Active = *upd.Active
	}

	var svcID *string
	if tmpl.ServiceID != nil {
		str := tmpl.ServiceID.String()
		svcID = &str
	}
	if err := validateTemplateInput(TemplateInput{
		Category:  tmpl.Category,
		ServiceID: svcID,
		Weekday:   int(tmpl.Weekday),
		StartTime: tmpl.StartTime,
		EndTime:   tmpl.EndTime,
		Capacity:  tmpl.Capacity,
	}); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateTemplate(ctx, *tmpl)
	if err != nil {
		return nil, err
	}

	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: ActionTemplateUpdated,
		EntityType: "slot_template",
		EntityID:   updated.ID.String(),
		Details: map[string]any{
			"active":   updated.Active,
			"capacity": updated.Capacity,
		},
	})
	return updated, nil
}

// BlockDate closes one calendar date for all bookings. Staff only.
func (s *Service) BlockDate(ctx context.Context, actor Actor, date time.Time, reason string) (*BlockedDate, error) {
	if !actor.IsStaff() {
		return nil, ErrActorNotPermitted
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	bd, err := s.repo.CreateBlockedDate(ctx, date, reasonPtr)
	if err != nil {
		return nil, fmt.Errorf("block date: %w", err)
	}
	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: ActionDateBlocked,
		EntityType: "blocked_date",
		EntityID:   date.Format("2006-01-02"),
		Details:    map[string]any{"reason": reason},
	})
	return bd, nil
}

// UnblockDate reopens a previously blocked date. Staff only.
func (s *Service) UnblockDate(ctx context.Context, actor Actor, date time.Time) error {
	if !actor.IsStaff() {
		return ErrActorNotPermitted
	}
	if err := s.repo.DeleteBlockedDate(ctx, date); err != nil {
		if errors.Is(err, ErrBlockedDateNotFound) {
			return err
		}
		return fmt.Errorf("unblock date: %w", err)
	}
	s.sink.Emit(ctx, audit.Event{
		Actor:      actor.ID,
		ActionType: ActionDateUnblocked,
		EntityType: "blocked_date",
		EntityID:   date.Format("2006-01-02"),
	})
	return nil
}
