package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/medanta-hms/opd-queue-core/internal/redis"
)

// memRepo is an in-memory Repository for service tests. A single mutex
// guards all state; the allocation transaction stages its insert and only
// publishes it on Commit.
type memRepo struct {
	mu        sync.Mutex
	patients  map[uuid.UUID]Patient
	services  map[uuid.UUID]ClinicService
	templates map[uuid.UUID]SlotTemplate
	bookings  map[uuid.UUID]Booking
	blocked   map[time.Time]BlockedDate
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients:  make(map[uuid.UUID]Patient),
		services:  make(map[uuid.UUID]ClinicService),
		templates: make(map[uuid.UUID]SlotTemplate),
		bookings:  make(map[uuid.UUID]Booking),
		blocked:   make(map[time.Time]BlockedDate),
	}
}

func (r *memRepo) addPatient() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.patients[id] = Patient{ID: id, PatientCode: "MH2026000001", Name: "Test Patient"}
	return id
}

func (r *memRepo) addTemplate(t SlotTemplate) SlotTemplate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.templates[t.ID] = t
	return t
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) CreatePatient(_ context.Context, code, name string, phone *string) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := Patient{ID: uuid.New(), PatientCode: code, Name: name, Phone: phone, CreatedAt: time.Now()}
	r.patients[p.ID] = p
	return &p, nil
}

func (r *memRepo) TouchPatientLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return ErrPatientNotFound
	}
	p.LastLoginAt = &at
	r.patients[id] = p
	return nil
}

func (r *memRepo) GetServiceByID(_ context.Context, id uuid.UUID) (*ClinicService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *memRepo) ListActiveServices(context.Context) ([]ClinicService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ClinicService
	for _, s := range r.services {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetTemplateByID(_ context.Context, id uuid.UUID) (*SlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &t, nil
}

func (r *memRepo) CreateTemplate(_ context.Context, t SlotTemplate) (*SlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.New()
	t.Active = true
	r.templates[t.ID] = t
	return &t, nil
}

func (r *memRepo) UpdateTemplate(_ context.Context, t SlotTemplate) (*SlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[t.ID]; !ok {
		return nil, ErrTemplateNotFound
	}
	r.templates[t.ID] = t
	return &t, nil
}

func (r *memRepo) ActiveTemplates(_ context.Context, weekday time.Weekday, category Category, serviceID *uuid.UUID) ([]SlotTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SlotTemplate
	for _, t := range r.templates {
		if !t.Active || t.Weekday != weekday || t.Category != category {
			continue
		}
		if serviceID != nil && (t.ServiceID == nil || *t.ServiceID != *serviceID) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memRepo) CountActiveBookings(_ context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countActiveLocked(templateID, date), nil
}

func (r *memRepo) countActiveLocked(templateID uuid.UUID, date time.Time) int {
	n := 0
	for _, b := range r.bookings {
		if b.TemplateID == templateID && b.BookingDate.Equal(date) && IsActive(b.Status) {
			n++
		}
	}
	return n
}

func (r *memRepo) maxSlotLocked(templateID uuid.UUID, date time.Time) int {
	max := 0
	for _, b := range r.bookings {
		if b.TemplateID == templateID && b.BookingDate.Equal(date) && b.SlotNumber > max {
			max = b.SlotNumber
		}
	}
	return max
}

func (r *memRepo) GetBookingByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *memRepo) UpdateBookingStatus(_ context.Context, id uuid.UUID, from []Status, to Status, stamp StatusStamp) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	matched := false
	for _, f := range from {
		if b.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrBookingNotFound
	}
	b.Status = to
	b.UpdatedAt = stamp.At
	switch to {
	case StatusVerified:
		b.VerifiedBy = &stamp.Actor
		at := stamp.At
		b.VerifiedAt = &at
	case StatusCancelled:
		at := stamp.At
		b.CancelledAt = &at
		b.CancelReason = stamp.CancelReason
	}
	r.bookings[id] = b
	return &b, nil
}

func (r *memRepo) ListBookingsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.PatientID == patientID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.After(out[j].BookedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListOverdueActive(_ context.Context, before time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.BookingDate.Before(before) && (b.Status == StatusPending || b.Status == StatusVerified) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memRepo) CountBookingsByStatus(_ context.Context, date time.Time) (StatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(StatusCounts)
	for _, b := range r.bookings {
		if b.BookingDate.Equal(date) {
			counts[b.Status]++
		}
	}
	return counts, nil
}

func (r *memRepo) IsDateBlocked(_ context.Context, date time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.blocked[date]
	return ok, nil
}

func (r *memRepo) CreateBlockedDate(_ context.Context, date time.Time, reason *string) (*BlockedDate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bd := BlockedDate{Date: date, Reason: reason, CreatedAt: time.Now()}
	r.blocked[date] = bd
	return &bd, nil
}

func (r *memRepo) DeleteBlockedDate(_ context.Context, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocked[date]; !ok {
		return ErrBlockedDateNotFound
	}
	delete(r.blocked, date)
	return nil
}

func (r *memRepo) ListBlockedDates(_ context.Context, from, to time.Time) ([]BlockedDate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []BlockedDate
	for _, bd := range r.blocked {
		if !bd.Date.Before(from) && !bd.Date.After(to) {
			out = append(out, bd)
		}
	}
	return out, nil
}

func (r *memRepo) BeginAllocation(context.Context) (AllocationTx, error) {
	return &memTx{repo: r}, nil
}

type memTx struct {
	repo    *memRepo
	pending *Booking
}

func (t *memTx) CountActiveBookings(_ context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.countActiveLocked(templateID, date), nil
}

func (t *memTx) MaxSlotNumber(_ context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.maxSlotLocked(templateID, date), nil
}

func (t *memTx) PatientHasActiveBooking(_ context.Context, patientID uuid.UUID, date time.Time) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, b := range t.repo.bookings {
		if b.PatientID == patientID && b.BookingDate.Equal(date) && IsActive(b.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertBooking(_ context.Context, nb NewBooking) (*Booking, error) {
	now := time.Now()
	b := Booking{
		ID:          uuid.New(),
		PatientID:   nb.PatientID,
		Category:    nb.Category,
		ServiceID:   nb.ServiceID,
		TemplateID:  nb.TemplateID,
		BookingDate: nb.BookingDate,
		SlotNumber:  nb.SlotNumber,
		Status:      StatusPending,
		BookedAt:    now,
		UpdatedAt:   now,
	}
	t.pending = &b
	return &b, nil
}

func (t *memTx) Commit(context.Context) error {
	if t.pending == nil {
		return nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.bookings[t.pending.ID] = *t.pending
	t.pending = nil
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	t.pending = nil
	return nil
}

// memLocker serializes callers per key with a real mutex, so contending
// goroutines queue instead of failing.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithSlotLock(ctx context.Context, templateID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("%s:%s", templateID, date.Format("2006-01-02"))
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// failLocker never grants the lock.
type failLocker struct{}

func (failLocker) WithSlotLock(context.Context, uuid.UUID, time.Time, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

// fixedPolicy is a DatePolicy with a pinned clock that accepts every date.
type fixedPolicy struct {
	now      time.Time
	loc      *time.Location
	bookable bool
}

func newFixedPolicy(now time.Time) *fixedPolicy {
	loc := time.FixedZone("IST", 5*3600+30*60)
	return &fixedPolicy{now: now, loc: loc, bookable: true}
}

func (p *fixedPolicy) Now() time.Time { return p.now }

func (p *fixedPolicy) Today() time.Time {
	local := p.now.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (p *fixedPolicy) Location() *time.Location { return p.loc }

func (p *fixedPolicy) CheckTemplateDate(context.Context, time.Time, *SlotTemplate) (bool, error) {
	return p.bookable, nil
}

func testDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(repo *memRepo, policy *fixedPolicy) *Service {
	return NewService(repo, newMemLocker(), policy, nil, nil, nil, ServiceConfig{
		LockRetries:    3,
		LockRetryDelay: time.Millisecond,
		CancelCutoff:   2 * time.Hour,
	})
}

func TestAllocateSequentialSlotNumbers(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	for i := 1; i <= 3; i++ {
		b, err := svc.Allocate(context.Background(), AllocateParams{
			PatientID:  repo.addPatient(),
			Category:   CategoryGeneral,
			TemplateID: tmpl.ID,
			Date:       date,
		})
		require.NoError(t, err)
		assert.Equal(t, i, b.SlotNumber)
		assert.Equal(t, StatusPending, b.Status)
	}
}

func TestAllocateCapacityBound(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 2, Active: true,
	})

	for i := 0; i < 2; i++ {
		_, err := svc.Allocate(context.Background(), AllocateParams{
			PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
		})
		require.NoError(t, err)
	}

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrSlotFull)
}

func TestAllocateConcurrentNeverOverbooks(t *testing.T) {
	const capacity = 30
	const extra = 10

	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: capacity, Active: true,
	})

	patients := make([]uuid.UUID, capacity+extra)
	for i := range patients {
		patients[i] = repo.addPatient()
	}

	var wg sync.WaitGroup
	results := make([]error, len(patients))
	slots := make([]int, len(patients))

	for i := range patients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := svc.Allocate(context.Background(), AllocateParams{
				PatientID: patients[i], Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
			})
			results[i] = err
			if err == nil {
				slots[i] = b.SlotNumber
			}
		}(i)
	}
	wg.Wait()

	granted := 0
	rejected := 0
	var taken []int
	for i, err := range results {
		if err == nil {
			granted++
			taken = append(taken, slots[i])
		} else {
			rejected++
			assert.ErrorIs(t, err, ErrSlotFull)
		}
	}

	assert.Equal(t, capacity, granted)
	assert.Equal(t, extra, rejected)

	// Winners hold exactly 1..capacity with no duplicates.
	sort.Ints(taken)
	for i, n := range taken {
		assert.Equal(t, i+1, n)
	}
}

func TestAllocatePatientOnePerDayAcrossCategories(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	general := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 10, Active: true,
	})
	svcID := uuid.New()
	specialty := repo.addTemplate(SlotTemplate{
		Category: CategorySpecialty, ServiceID: &svcID, Weekday: date.Weekday(),
		StartTime: "10:00", EndTime: "12:00", Capacity: 10, Active: true,
	})

	patient := repo.addPatient()

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: general.ID, Date: date,
	})
	require.NoError(t, err)

	_, err = svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategorySpecialty, ServiceID: &svcID, TemplateID: specialty.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrPatientAlreadyBooked)

	// A different day is a fresh allowance.
	otherDate := testDate(2026, 3, 17)
	_, err = svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: general.ID, Date: otherDate,
	})
	assert.NoError(t, err)
}

func TestAllocateAfterCancellationKeepsNumbersMovingForward(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 2, Active: true,
	})

	first, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)
	require.Equal(t, 1, first.SlotNumber)

	_, err = svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	staff := Actor{ID: "reception-1", Role: RoleStaff}
	_, err = svc.Cancel(context.Background(), first.ID, staff, "patient called")
	require.NoError(t, err)

	// Capacity freed by the cancellation, but slot 1 is gone for good.
	third, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, third.SlotNumber)
}

func TestAllocateRejectsUnknownPatientAndTemplate(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: uuid.New(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: uuid.New(), Date: date,
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestAllocateRejectsCategoryMismatch(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategorySpecialty, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestAllocateRejectsInactiveTemplate(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: false,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestAllocateRejectsClosedDate(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	policy.bookable = false
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrDateNotBookable)
}

func TestAllocateLockExhaustionReadsAsSlotFull(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := NewService(repo, failLocker{}, policy, nil, nil, nil, ServiceConfig{
		LockRetries:    2,
		LockRetryDelay: time.Millisecond,
	})

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	assert.ErrorIs(t, err, ErrSlotFull)
}

func TestCancelByPatient(t *testing.T) {
	repo := newMemRepo()
	// Slot starts 09:00 IST on 2026-03-10; the clock sits a day before, well
	// outside the two hour cutoff.
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})
	patient := repo.addPatient()

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), b.ID, Actor{ID: patient.String(), Role: RolePatient}, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "changed plans", *cancelled.CancelReason)
	assert.NotNil(t, cancelled.CancelledAt)
}

func TestCancelByPatientRejectsForeignBooking(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	other := repo.addPatient()
	_, err = svc.Cancel(context.Background(), b.ID, Actor{ID: other.String(), Role: RolePatient}, "")
	assert.ErrorIs(t, err, ErrActorNotPermitted)
}

func TestCancelByPatientInsideCutoff(t *testing.T) {
	repo := newMemRepo()
	// 08:00 IST on the service date, one hour before a 09:00 start.
	policy := newFixedPolicy(time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})
	patient := repo.addPatient()

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), b.ID, Actor{ID: patient.String(), Role: RolePatient}, "")
	assert.ErrorIs(t, err, ErrCancellationWindowExpired)

	// Staff are not bound by the cutoff.
	cancelled, err := svc.Cancel(context.Background(), b.ID, Actor{ID: "reception-1", Role: RoleStaff}, "desk override")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestCancelByPatientRequiresPending(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})
	patient := repo.addPatient()

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	staff := Actor{ID: "reception-1", Role: RoleStaff}
	_, err = svc.Transition(context.Background(), b.ID, staff, StatusVerified)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), b.ID, Actor{ID: patient.String(), Role: RolePatient}, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	// Staff may still cancel a verified booking.
	_, err = svc.Cancel(context.Background(), b.ID, staff, "")
	assert.NoError(t, err)
}

func TestTransitionLifecycle(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})
	patient := repo.addPatient()

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	staff := Actor{ID: "reception-1", Role: RoleStaff}

	verified, err := svc.Transition(context.Background(), b.ID, staff, StatusVerified)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, verified.Status)
	require.NotNil(t, verified.VerifiedBy)
	assert.Equal(t, "reception-1", *verified.VerifiedBy)
	assert.NotNil(t, verified.VerifiedAt)

	inConsult, err := svc.Transition(context.Background(), b.ID, staff, StatusInConsultation)
	require.NoError(t, err)
	assert.Equal(t, StatusInConsultation, inConsult.Status)

	done, err := svc.Transition(context.Background(), b.ID, staff, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	// Terminal.
	_, err = svc.Transition(context.Background(), b.ID, staff, StatusNoShow)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestTransitionRejectsSkipsAndPatients(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 5, Active: true,
	})
	patient := repo.addPatient()

	b, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: patient, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	staff := Actor{ID: "reception-1", Role: RoleStaff}

	// Pending cannot jump straight into consultation.
	_, err = svc.Transition(context.Background(), b.ID, staff, StatusInConsultation)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	// Cancellation must go through Cancel.
	_, err = svc.Transition(context.Background(), b.ID, staff, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.Transition(context.Background(), b.ID, Actor{ID: patient.String(), Role: RolePatient}, StatusVerified)
	assert.ErrorIs(t, err, ErrActorNotPermitted)
}

func TestAllocateIdempotentRejection(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	date := testDate(2026, 3, 10)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: date.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 1, Active: true,
	})

	_, err := svc.Allocate(context.Background(), AllocateParams{
		PatientID: repo.addPatient(), Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
	})
	require.NoError(t, err)

	// Re-submitting a losing request changes nothing.
	loser := repo.addPatient()
	for i := 0; i < 3; i++ {
		_, err := svc.Allocate(context.Background(), AllocateParams{
			PatientID: loser, Category: CategoryGeneral, TemplateID: tmpl.ID, Date: date,
		})
		assert.ErrorIs(t, err, ErrSlotFull)
	}
	count, err := repo.CountActiveBookings(context.Background(), tmpl.ID, date)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCloseOverdue(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 12, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	past := testDate(2026, 3, 10)
	today := testDate(2026, 3, 12)
	tmpl := repo.addTemplate(SlotTemplate{
		Category: CategoryGeneral, Weekday: past.Weekday(),
		StartTime: "09:00", EndTime: "12:00", Capacity: 10, Active: true,
	})

	mk := func(date time.Time, status Status) uuid.UUID {
		patient := repo.addPatient()
		id := uuid.New()
		repo.mu.Lock()
		repo.bookings[id] = Booking{
			ID: id, PatientID: patient,
			TemplateID: tmpl.ID, Category: CategoryGeneral,
			BookingDate: date, SlotNumber: len(repo.bookings) + 1, Status: status,
		}
		repo.mu.Unlock()
		return id
	}

	stale1 := mk(past, StatusPending)
	stale2 := mk(past, StatusVerified)
	done := mk(past, StatusCompleted)
	current := mk(today, StatusPending)

	closed, err := svc.CloseOverdue(context.Background(), Actor{ID: "system", Role: RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	get := func(id uuid.UUID) Status {
		b, err := repo.GetBookingByID(context.Background(), id)
		require.NoError(t, err)
		return b.Status
	}
	assert.Equal(t, StatusNoShow, get(stale1))
	assert.Equal(t, StatusNoShow, get(stale2))
	assert.Equal(t, StatusCompleted, get(done))
	assert.Equal(t, StatusPending, get(current))
}

func TestListBookingsByPatientClampsLimit(t *testing.T) {
	repo := newMemRepo()
	policy := newFixedPolicy(time.Date(2026, 3, 9, 4, 30, 0, 0, time.UTC))
	svc := newTestService(repo, policy)

	_, err := svc.ListBookingsByPatient(context.Background(), uuid.New(), -5, -1)
	require.NoError(t, err)
}

func TestRejectionErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("allocate: %w", ErrSlotFull)
	var rej *Rejection
	require.True(t, errors.As(wrapped, &rej))
	assert.Equal(t, "slot_full", rej.Code)
	assert.True(t, errors.Is(wrapped, ErrSlotFull))
}
