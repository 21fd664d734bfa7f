package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vaxpoint/vaccine-slot-booking/internal/redlock"
)

var (
	ErrSlotUnavailable         = errors.New("date slot is closed for booking")
	ErrSlotFull                = errors.New("no capacity remains for the requested day")
	ErrBookingConflict         = errors.New("booking lost a race to a concurrent request, please retry")
	ErrInvalidStatusTransition = errors.New("invalid appointment status transition")
)

// bookingAttempts bounds the select-then-increment retry loop. A lost race on
// one time slot just means the next selection sees the updated counters.
const bookingAttempts = 3

type Service struct {
	repo        Repository
	provisioner *Provisioner
	selector    *Selector
	log         *slog.Logger
}

func NewService(repo Repository, locker redlock.Locker, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		provisioner: NewProvisioner(repo, locker, log),
		selector:    NewSelector(repo),
		log:         log,
	}
}

// CreateAppointment books one unit of capacity for a user: validate the
// referenced records, make sure the day's ladder exists, pick the earliest
// open time slot and commit the appointment together with both counter
// increments. Preconditions fail in a fixed order so the caller always learns
// the first missing piece.
func (s *Service) CreateAppointment(ctx context.Context, userID, vaccineID, centerID, dateSlotID uuid.UUID, notes *string) (*Appointment, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if _, err := s.repo.GetVaccineByID(ctx, vaccineID); err != nil {
		if errors.Is(err, ErrVaccineNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load vaccine: %w", err)
	}

	if _, err := s.repo.GetCenterByID(ctx, centerID); err != nil {
		if errors.Is(err, ErrCenterNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load center: %w", err)
	}

	slot, err := s.repo.GetDateSlotByID(ctx, dateSlotID)
	if err != nil {
		if errors.Is(err, ErrDateSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load date slot: %w", err)
	}

	if slot.Status != DateSlotActive {
		return nil, ErrSlotUnavailable
	}
	if slot.IsFull() {
		return nil, ErrSlotFull
	}

	if err := s.provisioner.EnsureTimeSlots(ctx, slot); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < bookingAttempts; attempt++ {
		timeSlot, err := s.selector.SelectAvailable(ctx, dateSlotID)
		if err != nil {
			if errors.Is(err, ErrNoOpenTimeSlot) {
				// The day counter had room but the ladder is exhausted.
				return nil, ErrSlotFull
			}
			return nil, fmt.Errorf("select time slot: %w", err)
		}

		created, err := s.repo.BookAppointment(ctx, &Appointment{
			UserID:     userID,
			CenterID:   centerID,
			DateSlotID: dateSlotID,
			TimeSlotID: timeSlot.ID,
			VaccineID:  vaccineID,
			Date:       slot.Date,
			StartTime:  timeSlot.StartTime,
			EndTime:    timeSlot.EndTime,
			Notes:      notes,
		})
		if err != nil {
			if errors.Is(err, ErrTimeSlotConflict) {
				s.log.Debug("time slot filled mid-booking, retrying selection",
					"date_slot_id", dateSlotID,
					"time_slot_id", timeSlot.ID,
					"attempt", attempt+1,
				)
				continue
			}
			return nil, err
		}

		s.log.Info("appointment booked",
			"appointment_id", created.ID,
			"user_id", userID,
			"date_slot_id", dateSlotID,
			"time_slot_id", timeSlot.ID,
			"start_time", timeSlot.StartTime,
		)
		return created, nil
	}

	return nil, ErrBookingConflict
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsForUser retrieves a citizen's appointments, newest first.
func (s *Service) ListAppointmentsForUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	appointments, err := s.repo.ListAppointmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsForCenter retrieves a center's appointments, optionally
// narrowed by date and status.
func (s *Service) ListAppointmentsForCenter(ctx context.Context, centerID uuid.UUID, filter CenterAppointmentsFilter) ([]AppointmentDetail, error) {
	appointments, err := s.repo.ListAppointmentsByCenter(ctx, centerID, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments by center: %w", err)
	}
	return appointments, nil
}

// CompleteAppointment moves a pending appointment to completed and stamps
// completed_at. The counters stay put: a completed appointment still occupies
// its unit of capacity.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	now := time.Now()

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusPending, StatusCompleted, &now)
	if err == nil {
		s.log.Info("appointment completed", "appointment_id", updated.ID)
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	// The compare-and-set matched nothing: either the appointment is gone or
	// it is no longer pending.
	if _, getErr := s.repo.GetAppointmentDetail(ctx, id); getErr != nil {
		if errors.Is(getErr, ErrAppointmentNotFound) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("load appointment: %w", getErr)
	}
	return nil, ErrInvalidStatusTransition
}

// SweepNoShows is called periodically by the worker. Pending appointments
// whose end time passed more than grace ago become no-show. Counters are left
// untouched; the day's capacity is no longer sellable anyway.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	overdue, err := s.repo.FindOverduePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue pending appointments: %w", err)
	}

	swept := 0
	for _, appt := range overdue {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusNoShow, nil)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("failed to mark appointment no-show", "appointment_id", appt.ID, "error", err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.log.Info("no-show sweep complete", "swept", swept, "cutoff", cutoff)
	}
	return swept, nil
}
