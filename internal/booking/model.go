package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no-show"
	StatusCancelled AppointmentStatus = "cancelled"
)

type DateSlotStatus string

const (
	DateSlotActive DateSlotStatus = "active"
	DateSlotClosed DateSlotStatus = "closed"
)

type User struct {
	ID        uuid.UUID
	FullName  string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Vaccine struct {
	ID            uuid.UUID
	Name          string
	Manufacturer  string
	DosesRequired int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Center struct {
	ID        uuid.UUID
	Name      string
	City      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateSlot is a center's published capacity for one calendar day.
// Invariant: 0 <= Booked <= Capacity, (CenterID, Date) unique.
type DateSlot struct {
	ID        uuid.UUID
	CenterID  uuid.UUID
	Date      time.Time
	Capacity  int
	Booked    int
	Status    DateSlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns how many bookings the day can still take.
func (d *DateSlot) Remaining() int {
	return d.Capacity - d.Booked
}

func (d *DateSlot) IsFull() bool {
	return d.Booked >= d.Capacity
}

// TimeSlot is a bounded sub-interval of a DateSlot with its own counter.
// Invariant: 0 <= Booked <= Capacity, (DateSlotID, StartTime) unique.
type TimeSlot struct {
	ID         uuid.UUID
	CenterID   uuid.UUID
	DateSlotID uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Capacity   int
	Booked     int
	StaffID    *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *TimeSlot) Remaining() int {
	return t.Capacity - t.Booked
}

func (t *TimeSlot) IsFull() bool {
	return t.Booked >= t.Capacity
}

// Appointment occupies exactly one unit of TimeSlot (and DateSlot) capacity.
// Date, StartTime and EndTime are denormalized from the slots for display.
type Appointment struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	CenterID    uuid.UUID
	DateSlotID  uuid.UUID
	TimeSlotID  uuid.UUID
	VaccineID   uuid.UUID
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	Status      AppointmentStatus
	Notes       *string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsTerminal reports whether the appointment can no longer change state.
func (a *Appointment) IsTerminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusNoShow || a.Status == StatusCancelled
}

// AppointmentDetail joins an appointment with display data from its
// referenced vaccine and center.
type AppointmentDetail struct {
	Appointment
	VaccineName  string
	Manufacturer string
	CenterName   string
	CenterCity   string
}

// CenterAppointmentsFilter narrows a center listing. Nil fields match everything.
type CenterAppointmentsFilter struct {
	Date   *time.Time
	Status *AppointmentStatus
}
