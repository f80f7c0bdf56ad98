package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names the insert path maps onto rejections.
const (
	constraintSlotNumber     = "bookings_slot_uniq"
	constraintPatientActive  = "bookings_patient_active_uniq"
	constraintTemplateActive = "slot_templates_active_uniq"
)

const bookingColumns = `id, patient_id, category, service_id, template_id, booking_date,
		slot_number, status, verified_by, verified_at, booked_at, cancelled_at, cancel_reason, updated_at`

// PgQuerier is the subset of pgxpool.Pool the repository uses, split out
// so tests can swap in pgxmock.
type PgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ PgQuerier = (*pgxpool.Pool)(nil)

type PgRepository struct {
	pool PgQuerier
}

func NewPgRepository(pool PgQuerier) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.PatientCode,
		&p.Name,
		&p.Phone,
		&p.LastLoginAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanService(row pgx.Row) (*ClinicService, error) {
	var s ClinicService

	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanTemplate(row pgx.Row) (*SlotTemplate, error) {
	var t SlotTemplate
	var weekday int

	err := row.Scan(
		&t.ID,
		&t.Category,
		&t.ServiceID,
		&weekday,
		&t.StartTime,
		&t.EndTime,
		&t.Capacity,
		&t.Active,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	t.Weekday = time.Weekday(weekday)
	return &t, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking

	err := row.Scan(
		&b.ID,
		&b.PatientID,
		&b.Category,
		&b.ServiceID,
		&b.TemplateID,
		&b.BookingDate,
		&b.SlotNumber,
		&b.Status,
		&b.VerifiedBy,
		&b.VerifiedAt,
		&b.BookedAt,
		&b.CancelledAt,
		&b.CancelReason,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return &b, nil
}

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_code, name, phone, last_login_at, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) CreatePatient(ctx context.Context, code, name string, phone *string) (*Patient, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, patient_code, name, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, patient_code, name, phone, last_login_at, created_at, updated_at
	`, id, code, name, phone)

	return scanPatient(row)
}

func (r *PgRepository) TouchPatientLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients SET last_login_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("touch patient login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// Services

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ClinicService, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) ListActiveServices(ctx context.Context) ([]ClinicService, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM services
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ClinicService
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// Templates

func (r *PgRepository) GetTemplateByID(ctx context.Context, id uuid.UUID) (*SlotTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at
		FROM slot_templates
		WHERE id = $1
	`, id)
	return scanTemplate(row)
}

func (r *PgRepository) CreateTemplate(ctx context.Context, t SlotTemplate) (*SlotTemplate, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO slot_templates (id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, now(), now())
		RETURNING id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at
	`, id, t.Category, t.ServiceID, int(t.Weekday), t.StartTime, t.EndTime, t.Capacity)

	tmpl, err := scanTemplate(row)
	if err != nil {
		return nil, mapTemplateError(err)
	}
	return tmpl, nil
}

func (r *PgRepository) UpdateTemplate(ctx context.Context, t SlotTemplate) (*SlotTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slot_templates
		SET weekday = $2,
		    start_time = $3,
		    end_time = $4,
		    capacity = $5,
		    active = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at
	`, t.ID, int(t.Weekday), t.StartTime, t.EndTime, t.Capacity, t.Active)

	tmpl, err := scanTemplate(row)
	if err != nil {
		return nil, mapTemplateError(err)
	}
	return tmpl, nil
}

func (r *PgRepository) ActiveTemplates(ctx context.Context, weekday time.Weekday, category Category, serviceID *uuid.UUID) ([]SlotTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, category, service_id, weekday, start_time, end_time, capacity, active, created_at, updated_at
		FROM slot_templates
		WHERE active
		  AND weekday = $1
		  AND category = $2
		  AND ($3::uuid IS NULL OR service_id = $3)
		ORDER BY start_time
	`, int(weekday), category, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// Bookings

func (r *PgRepository) CountActiveBookings(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE template_id = $1
		  AND booking_date = $2
		  AND status NOT IN ('cancelled', 'no_show')
	`, templateID, date).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, stamp StatusStamp) (*Booking, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	var row pgx.Row
	switch to {
	case StatusVerified:
		row = r.pool.QueryRow(ctx, `
			UPDATE bookings
			SET status = $2,
			    verified_by = $3,
			    verified_at = $4,
			    updated_at = now()
			WHERE id = $1
			  AND status = ANY($5)
			RETURNING `+bookingColumns+`
		`, id, to, stamp.Actor, stamp.At, fromStrs)
	case StatusCancelled:
		row = r.pool.QueryRow(ctx, `
			UPDATE bookings
			SET status = $2,
			    cancelled_at = $3,
			    cancel_reason = $4,
			    updated_at = now()
			WHERE id = $1
			  AND status = ANY($5)
			RETURNING `+bookingColumns+`
		`, id, to, stamp.At, stamp.CancelReason, fromStrs)
	default:
		row = r.pool.QueryRow(ctx, `
			UPDATE bookings
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = ANY($3)
			RETURNING `+bookingColumns+`
		`, id, to, fromStrs)
	}

	return scanBooking(row)
}

func (r *PgRepository) ListBookingsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY booking_date DESC, booked_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListOverdueActive(ctx context.Context, before time.Time) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE booking_date < $1
		  AND status IN ('pending', 'verified')
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountBookingsByStatus(ctx context.Context, date time.Time) (StatusCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM bookings
		WHERE booking_date = $1
		GROUP BY status
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(StatusCounts)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

// Blocked dates

func (r *PgRepository) IsDateBlocked(ctx context.Context, date time.Time) (bool, error) {
	var blocked bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM blocked_dates WHERE blocked_date = $1)
	`, date).Scan(&blocked)
	if err != nil {
		return false, err
	}
	return blocked, nil
}

func (r *PgRepository) CreateBlockedDate(ctx context.Context, date time.Time, reason *string) (*BlockedDate, error) {
	var bd BlockedDate
	err := r.pool.QueryRow(ctx, `
		INSERT INTO blocked_dates (blocked_date, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (blocked_date) DO UPDATE SET reason = EXCLUDED.reason
		RETURNING blocked_date, reason, created_at
	`, date, reason).Scan(&bd.Date, &bd.Reason, &bd.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &bd, nil
}

func (r *PgRepository) DeleteBlockedDate(ctx context.Context, date time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM blocked_dates WHERE blocked_date = $1
	`, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockedDateNotFound
	}
	return nil
}

func (r *PgRepository) ListBlockedDates(ctx context.Context, from, to time.Time) ([]BlockedDate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT blocked_date, reason, created_at
		FROM blocked_dates
		WHERE blocked_date BETWEEN $1 AND $2
		ORDER BY blocked_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedDate
	for rows.Next() {
		var bd BlockedDate
		if err := rows.Scan(&bd.Date, &bd.Reason, &bd.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, bd)
	}
	return result, rows.Err()
}

// Allocation transaction

type pgAllocationTx struct {
	tx pgx.Tx
}

func (r *PgRepository) BeginAllocation(ctx context.Context) (AllocationTx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin allocation tx: %w", err)
	}
	return &pgAllocationTx{tx: tx}, nil
}

func (t *pgAllocationTx) CountActiveBookings(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings
		WHERE template_id = $1
		  AND booking_date = $2
		  AND status NOT IN ('cancelled', 'no_show')
	`, templateID, date).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *pgAllocationTx) MaxSlotNumber(ctx context.Context, templateID uuid.UUID, date time.Time) (int, error) {
	var max int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(slot_number), 0)
		FROM bookings
		WHERE template_id = $1
		  AND booking_date = $2
	`, templateID, date).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

func (t *pgAllocationTx) PatientHasActiveBooking(ctx context.Context, patientID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE patient_id = $1
			  AND booking_date = $2
			  AND status NOT IN ('cancelled', 'no_show')
		)
	`, patientID, date).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgAllocationTx) InsertBooking(ctx context.Context, nb NewBooking) (*Booking, error) {
	id := uuid.New()

	row := t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, patient_id, category, service_id, template_id, booking_date,
			slot_number, status, booked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', now(), now())
		RETURNING `+bookingColumns+`
	`, id, nb.PatientID, nb.Category, nb.ServiceID, nb.TemplateID, nb.BookingDate, nb.SlotNumber)

	b, err := scanBooking(row)
	if err != nil {
		return nil, mapInsertError(err)
	}
	return b, nil
}

func (t *pgAllocationTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit allocation tx: %w", err)
	}
	return nil
}

func (t *pgAllocationTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// mapInsertError turns the backstop unique constraints into the rejection
// a racing caller would have received had it lost inside the lock. Raw
// constraint errors never reach the caller.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case constraintSlotNumber:
			return ErrSlotFull
		case constraintPatientActive:
			return ErrPatientAlreadyBooked
		}
	}
	return err
}

func mapTemplateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraintTemplateActive {
		return ErrDuplicateTemplate
	}
	return err
}
