package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrVaccineNotFound     = errors.New("vaccine not found")
	ErrCenterNotFound      = errors.New("center not found")
	ErrDateSlotNotFound    = errors.New("date slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrNoOpenTimeSlot means every time slot of the day is at capacity.
	ErrNoOpenTimeSlot = errors.New("no time slot with remaining capacity")

	// ErrTimeSlotConflict means the chosen time slot filled up between
	// selection and the conditional increment. Retryable.
	ErrTimeSlotConflict = errors.New("time slot filled by a concurrent booking")

	// ErrDuplicateLadder means a time slot with the same start already
	// exists for the date slot. Raised by the unique index when two
	// provisioners race past the lock.
	ErrDuplicateLadder = errors.New("time slots already provisioned for date slot")
)

// Repository contains all storage interactions needed by the booking core.
//
// BookAppointment is the one compound write: it must persist the appointment
// and increment both counters as a single atomic unit, and must refuse the
// increment whenever booked == capacity on either level. CreateTimeSlots is
// all-or-nothing: either the whole ladder lands or none of it does.
type Repository interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetVaccineByID(ctx context.Context, id uuid.UUID) (*Vaccine, error)
	GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error)
	GetDateSlotByID(ctx context.Context, id uuid.UUID) (*DateSlot, error)

	// Provisioning
	CountTimeSlots(ctx context.Context, dateSlotID uuid.UUID) (int, error)
	CreateTimeSlots(ctx context.Context, slots []TimeSlot) error

	// Selection
	EarliestAvailableTimeSlot(ctx context.Context, dateSlotID uuid.UUID) (*TimeSlot, error)

	// Booking
	BookAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// Read side
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsByCenter(ctx context.Context, centerID uuid.UUID, filter CenterAppointmentsFilter) ([]AppointmentDetail, error)

	// Staff workflow and the no-show sweep
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, completedAt *time.Time) (*Appointment, error)
	FindOverduePending(ctx context.Context, cutoff time.Time) ([]Appointment, error)
}
