package booking

import (
	"context"

	"github.com/google/uuid"
)

// Selector picks the time slot a new booking should occupy: the earliest
// start time with remaining capacity. ErrNoOpenTimeSlot is a normal business
// outcome ("the day is full"), not a fault.
type Selector struct {
	repo Repository
}

func NewSelector(repo Repository) *Selector {
	return &Selector{repo: repo}
}

func (s *Selector) SelectAvailable(ctx context.Context, dateSlotID uuid.UUID) (*TimeSlot, error) {
	return s.repo.EarliestAvailableTimeSlot(ctx, dateSlotID)
}
