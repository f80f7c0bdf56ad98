// Package calendar decides which concrete dates are open for booking.
// All civil-day reasoning uses the hospital's fixed UTC+5:30 clock, not
// the caller's local time.
package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medanta-hms/opd-queue-core/internal/booking"
)

// HospitalZone is the hospital's civil clock.
var HospitalZone = time.FixedZone("IST", 5*3600+30*60)

// Day normalizes an instant to its hospital-local civil date, represented
// canonically as midnight UTC so date values compare with ==.
func Day(t time.Time) time.Time {
	local := t.In(HospitalZone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// Repository is the read surface the policy needs.
type Repository interface {
	IsDateBlocked(ctx context.Context, date time.Time) (bool, error)
	ListBlockedDates(ctx context.Context, from, to time.Time) ([]booking.BlockedDate, error)
	ActiveTemplates(ctx context.Context, weekday time.Weekday, category booking.Category, serviceID *uuid.UUID) ([]booking.SlotTemplate, error)
	CountActiveBookings(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error)
}

type Policy struct {
	repo           Repository
	maxAdvanceDays int
	now            func() time.Time
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

func NewPolicy(repo Repository, maxAdvanceDays int, opts ...Option) *Policy {
	p := &Policy{
		repo:           repo,
		maxAdvanceDays: maxAdvanceDays,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now returns the current instant from the policy's clock.
func (p *Policy) Now() time.Time {
	return p.now()
}

// Today returns the current hospital-local civil date.
func (p *Policy) Today() time.Time {
	return Day(p.now())
}

// Location returns the hospital's civil clock location.
func (p *Policy) Location() *time.Location {
	return HospitalZone
}

func (p *Policy) withinWindow(date time.Time) bool {
	today := p.Today()
	if date.Before(today) {
		return false
	}
	horizon := today.AddDate(0, 0, p.maxAdvanceDays)
	return !date.After(horizon)
}

// CheckTemplateDate reports whether a specific template may take bookings
// on the given date: inside the window, not admin-blocked, and falling on
// the template's weekday.
func (p *Policy) CheckTemplateDate(ctx context.Context, date time.Time, tmpl *booking.SlotTemplate) (bool, error) {
	if !p.withinWindow(date) {
		return false, nil
	}
	if date.Weekday() != tmpl.Weekday {
		return false, nil
	}
	blocked, err := p.repo.IsDateBlocked(ctx, date)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// IsBookable reports whether a date is open for a category at all: inside
// the window, not blocked, and with at least one active template on the
// date's weekday (and service, for the specialty queue).
func (p *Policy) IsBookable(ctx context.Context, date time.Time, category booking.Category, serviceID *uuid.UUID) (bool, error) {
	if !p.withinWindow(date) {
		return false, nil
	}
	blocked, err := p.repo.IsDateBlocked(ctx, date)
	if err != nil {
		return false, err
	}
	if blocked {
		return false, nil
	}
	templates, err := p.repo.ActiveTemplates(ctx, date.Weekday(), category, serviceID)
	if err != nil {
		return false, err
	}
	return len(templates) > 0, nil
}

// TemplateAvailability is the per-template occupancy projection shown to
// a patient choosing a slot.
type TemplateAvailability struct {
	Template  booking.SlotTemplate
	Capacity  int
	Booked    int
	Available int
}

// Availability returns live occupancy for every active template on the
// date. Counts are recomputed on each call; concurrent bookings may land
// between the count and the caller acting on it, which the allocator's
// own locked count absorbs.
func (p *Policy) Availability(ctx context.Context, date time.Time, category booking.Category, serviceID *uuid.UUID) ([]TemplateAvailability, error) {
	bookable, err := p.preScreen(ctx, date)
	if err != nil {
		return nil, err
	}
	if !bookable {
		return []TemplateAvailability{}, nil
	}

	templates, err := p.repo.ActiveTemplates(ctx, date.Weekday(), category, serviceID)
	if err != nil {
		return nil, err
	}

	result := make([]TemplateAvailability, 0, len(templates))
	for _, tmpl := range templates {
		booked, err := p.repo.CountActiveBookings(ctx, tmpl.ID, date)
		if err != nil {
			return nil, err
		}
		available := tmpl.Capacity - booked
		if available < 0 {
			available = 0
		}
		result = append(result, TemplateAvailability{
			Template:  tmpl,
			Capacity:  tmpl.Capacity,
			Booked:    booked,
			Available: available,
		})
	}
	return result, nil
}

func (p *Policy) preScreen(ctx context.Context, date time.Time) (bool, error) {
	if !p.withinWindow(date) {
		return false, nil
	}
	blocked, err := p.repo.IsDateBlocked(ctx, date)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// BookableDates returns every date in the advance-booking window that a
// patient could pick for the category. Feeds the date picker.
func (p *Policy) BookableDates(ctx context.Context, category booking.Category, serviceID *uuid.UUID) ([]time.Time, error) {
	today := p.Today()
	horizon := today.AddDate(0, 0, p.maxAdvanceDays)

	blockedList, err := p.repo.ListBlockedDates(ctx, today, horizon)
	if err != nil {
		return nil, err
	}
	blocked := make(map[time.Time]bool, len(blockedList))
	for _, bd := range blockedList {
		blocked[bd.Date] = true
	}

	// One template lookup per weekday instead of per date.
	hasTemplates := make(map[time.Weekday]bool, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		templates, err := p.repo.ActiveTemplates(ctx, wd, category, serviceID)
		if err != nil {
			return nil, err
		}
		hasTemplates[wd] = len(templates) > 0
	}

	var dates []time.Time
	for d := today; !d.After(horizon); d = d.AddDate(0, 0, 1) {
		if blocked[d] || !hasTemplates[d.Weekday()] {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}
