package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// psql builds queries with $n placeholders for the filtered list endpoints.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email *string

	err := row.Scan(
		&u.ID,
		&u.FullName,
		&email,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	u.Email = email
	return &u, nil
}

func scanVaccine(row pgx.Row) (*Vaccine, error) {
	var v Vaccine

	err := row.Scan(
		&v.ID,
		&v.Name,
		&v.Manufacturer,
		&v.DosesRequired,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVaccineNotFound
		}
		return nil, err
	}

	return &v, nil
}

func scanCenter(row pgx.Row) (*Center, error) {
	var c Center

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.City,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCenterNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanDateSlot(row pgx.Row) (*DateSlot, error) {
	var d DateSlot

	err := row.Scan(
		&d.ID,
		&d.CenterID,
		&d.Date,
		&d.Capacity,
		&d.Booked,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDateSlotNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanTimeSlot(row pgx.Row) (*TimeSlot, error) {
	var t TimeSlot
	var staffID *uuid.UUID

	err := row.Scan(
		&t.ID,
		&t.CenterID,
		&t.DateSlotID,
		&t.StartTime,
		&t.EndTime,
		&t.Capacity,
		&t.Booked,
		&staffID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoOpenTimeSlot
		}
		return nil, err
	}

	t.StaffID = staffID
	return &t, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string
	var completedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.CenterID,
		&a.DateSlotID,
		&a.TimeSlotID,
		&a.VaccineID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&notes,
		&completedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Notes = notes
	a.CompletedAt = completedAt
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var notes *string
	var completedAt *time.Time

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.CenterID,
		&d.DateSlotID,
		&d.TimeSlotID,
		&d.VaccineID,
		&d.Date,
		&d.StartTime,
		&d.EndTime,
		&d.Status,
		&notes,
		&completedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.VaccineName,
		&d.Manufacturer,
		&d.CenterName,
		&d.CenterCity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Notes = notes
	d.CompletedAt = completedAt
	return &d, nil
}

const appointmentDetailColumns = `
	a.id, a.user_id, a.center_id, a.date_slot_id, a.time_slot_id, a.vaccine_id,
	a.slot_date, a.start_time, a.end_time, a.status, a.notes, a.completed_at,
	a.created_at, a.updated_at,
	v.name, v.manufacturer, c.name, c.city`

// Interface methods

func (r *PgRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgRepository) GetVaccineByID(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, manufacturer, doses_required, created_at, updated_at
		FROM vaccines
		WHERE id = $1
	`, id)
	return scanVaccine(row)
}

func (r *PgRepository) GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, city, created_at, updated_at
		FROM centers
		WHERE id = $1
	`, id)
	return scanCenter(row)
}

func (r *PgRepository) GetDateSlotByID(ctx context.Context, id uuid.UUID) (*DateSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, center_id, slot_date, capacity, booked, status, created_at, updated_at
		FROM date_slots
		WHERE id = $1
	`, id)
	return scanDateSlot(row)
}

func (r *PgRepository) CountTimeSlots(ctx context.Context, dateSlotID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM time_slots WHERE date_slot_id = $1
	`, dateSlotID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count time slots: %w", err)
	}
	return count, nil
}

// CreateTimeSlots writes the whole ladder in one transaction. A unique-index
// violation on (date_slot_id, start_time) means another provisioner won the
// race; the transaction rolls back and ErrDuplicateLadder is returned.
func (r *PgRepository) CreateTimeSlots(ctx context.Context, slots []TimeSlot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin provisioning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO time_slots (id, center_id, date_slot_id, start_time, end_time, capacity, booked, staff_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7, now(), now())
		`, s.ID, s.CenterID, s.DateSlotID, s.StartTime, s.EndTime, s.Capacity, s.StaffID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateLadder
			}
			return fmt.Errorf("insert time slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit provisioning tx: %w", err)
	}

	return nil
}

func (r *PgRepository) EarliestAvailableTimeSlot(ctx context.Context, dateSlotID uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, center_id, date_slot_id, start_time, end_time, capacity, booked, staff_id, created_at, updated_at
		FROM time_slots
		WHERE date_slot_id = $1
		  AND booked < capacity
		ORDER BY start_time, id
		LIMIT 1
	`, dateSlotID)
	return scanTimeSlot(row)
}

// BookAppointment runs the three booking writes as one transaction:
// conditional increment of the time slot, conditional increment of the date
// slot, appointment insert. Either all three land or none do, so a failed
// increment can never leave an orphaned appointment behind.
func (r *PgRepository) BookAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The WHERE clause is re-evaluated after the row lock is granted, so
	// booked can never run past capacity no matter how bookings interleave.
	ct, err := tx.Exec(ctx, `
		UPDATE time_slots
		SET booked = booked + 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked < capacity
	`, appt.TimeSlotID)
	if err != nil {
		return nil, fmt.Errorf("increment time slot counter: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, ErrTimeSlotConflict
	}

	ct, err = tx.Exec(ctx, `
		UPDATE date_slots
		SET booked = booked + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'active'
		  AND booked < capacity
	`, appt.DateSlotID)
	if err != nil {
		return nil, fmt.Errorf("increment date slot counter: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, r.classifyDateSlotRefusal(ctx, tx, appt.DateSlotID)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, center_id, date_slot_id, time_slot_id, vaccine_id,
		                          slot_date, start_time, end_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, now(), now())
		RETURNING id, user_id, center_id, date_slot_id, time_slot_id, vaccine_id,
		          slot_date, start_time, end_time, status, notes, completed_at, created_at, updated_at
	`, id, appt.UserID, appt.CenterID, appt.DateSlotID, appt.TimeSlotID, appt.VaccineID,
		appt.Date, appt.StartTime, appt.EndTime, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking tx: %w", err)
	}

	return created, nil
}

// classifyDateSlotRefusal figures out why the conditional increment matched
// nothing: slot gone, slot closed, or slot at capacity.
func (r *PgRepository) classifyDateSlotRefusal(ctx context.Context, tx pgx.Tx, dateSlotID uuid.UUID) error {
	var status DateSlotStatus
	var booked, capacity int

	err := tx.QueryRow(ctx, `
		SELECT status, booked, capacity FROM date_slots WHERE id = $1
	`, dateSlotID).Scan(&status, &booked, &capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDateSlotNotFound
		}
		return fmt.Errorf("inspect date slot: %w", err)
	}

	if status != DateSlotActive {
		return ErrSlotUnavailable
	}
	if booked >= capacity {
		return ErrSlotFull
	}
	return ErrBookingConflict
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentDetailColumns+`
		FROM appointments a
		JOIN vaccines v ON v.id = a.vaccine_id
		JOIN centers c ON c.id = a.center_id
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	query, args, err := psql.
		Select(appointmentDetailColumns).
		From("appointments a").
		Join("vaccines v ON v.id = a.vaccine_id").
		Join("centers c ON c.id = a.center_id").
		Where(sq.Eq{"a.user_id": userID}).
		OrderBy("a.created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user listing query: %w", err)
	}

	return r.queryDetails(ctx, query, args)
}

func (r *PgRepository) ListAppointmentsByCenter(ctx context.Context, centerID uuid.UUID, filter CenterAppointmentsFilter) ([]AppointmentDetail, error) {
	builder := psql.
		Select(appointmentDetailColumns).
		From("appointments a").
		Join("vaccines v ON v.id = a.vaccine_id").
		Join("centers c ON c.id = a.center_id").
		Where(sq.Eq{"a.center_id": centerID}).
		OrderBy("a.created_at DESC")

	if filter.Date != nil {
		builder = builder.Where(sq.Eq{"a.slot_date": *filter.Date})
	}
	if filter.Status != nil {
		builder = builder.Where(sq.Eq{"a.status": *filter.Status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build center listing query: %w", err)
	}

	return r.queryDetails(ctx, query, args)
}

func (r *PgRepository) queryDetails(ctx context.Context, query string, args []any) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, completedAt *time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    completed_at = COALESCE($4, completed_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING id, user_id, center_id, date_slot_id, time_slot_id, vaccine_id,
		          slot_date, start_time, end_time, status, notes, completed_at, created_at, updated_at
	`, id, to, from, completedAt)

	return scanAppointment(row)
}

func (r *PgRepository) FindOverduePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, center_id, date_slot_id, time_slot_id, vaccine_id,
		       slot_date, start_time, end_time, status, notes, completed_at, created_at, updated_at
		FROM appointments
		WHERE status = 'pending'
		  AND end_time < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
