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

// Default ladder: eight one-hour intervals spanning 09:00-17:00.
const (
	LadderStartHour         = 9
	LadderSlotCount         = 8
	LadderSlotDuration      = time.Hour
	DefaultTimeSlotCapacity = 50
)

// Provisioner lazily materializes the default time-slot ladder for a date
// slot the first time a booking needs one. Provisioning is serialized per
// date slot through the distributed lock; the unique index on
// (date_slot_id, start_time) catches anything that slips past it.
type Provisioner struct {
	repo   Repository
	locker redlock.Locker
	log    *slog.Logger
}

func NewProvisioner(repo Repository, locker redlock.Locker, log *slog.Logger) *Provisioner {
	return &Provisioner{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// EnsureTimeSlots is a no-op when the date slot already has time slots.
func (p *Provisioner) EnsureTimeSlots(ctx context.Context, slot *DateSlot) error {
	count, err := p.repo.CountTimeSlots(ctx, slot.ID)
	if err != nil {
		return fmt.Errorf("count time slots: %w", err)
	}
	if count > 0 {
		return nil
	}

	err = p.locker.WithDateSlotLock(ctx, slot.ID, func(lockCtx context.Context) error {
		// Re-check inside the critical section: another booking may have
		// provisioned while we waited for the lock key.
		count, err := p.repo.CountTimeSlots(lockCtx, slot.ID)
		if err != nil {
			return fmt.Errorf("re-count time slots: %w", err)
		}
		if count > 0 {
			return nil
		}

		ladder := buildLadder(slot)
		if err := p.repo.CreateTimeSlots(lockCtx, ladder); err != nil {
			return err
		}

		p.log.Info("provisioned time slot ladder",
			"date_slot_id", slot.ID,
			"center_id", slot.CenterID,
			"slots", len(ladder),
		)
		return nil
	})

	// Both mean somebody else already built the ladder.
	if errors.Is(err, ErrDuplicateLadder) || errors.Is(err, redlock.ErrLockNotAcquired) {
		return p.verifyLadder(ctx, slot.ID)
	}

	return err
}

// verifyLadder confirms the ladder a concurrent provisioner was building has
// actually landed before booking proceeds.
func (p *Provisioner) verifyLadder(ctx context.Context, dateSlotID uuid.UUID) error {
	count, err := p.repo.CountTimeSlots(ctx, dateSlotID)
	if err != nil {
		return fmt.Errorf("verify ladder: %w", err)
	}
	if count == 0 {
		return ErrBookingConflict
	}
	return nil
}

func buildLadder(slot *DateSlot) []TimeSlot {
	day := time.Date(slot.Date.Year(), slot.Date.Month(), slot.Date.Day(), 0, 0, 0, 0, time.UTC)

	ladder := make([]TimeSlot, 0, LadderSlotCount)
	for i := 0; i < LadderSlotCount; i++ {
		start := day.Add(time.Duration(LadderStartHour)*time.Hour + time.Duration(i)*LadderSlotDuration)
		ladder = append(ladder, TimeSlot{
			ID:         uuid.New(),
			CenterID:   slot.CenterID,
			DateSlotID: slot.ID,
			StartTime:  start,
			EndTime:    start.Add(LadderSlotDuration),
			Capacity:   DefaultTimeSlotCapacity,
		})
	}

	return ladder
}
