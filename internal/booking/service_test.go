package booking

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo *memRepo
	svc  *Service

	userID    uuid.UUID
	vaccineID uuid.UUID
	centerID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMemRepo()
	f := &fixture{
		repo:      repo,
		svc:       NewService(repo, newFakeLocker(), testLogger()),
		userID:    uuid.New(),
		vaccineID: uuid.New(),
		centerID:  uuid.New(),
	}

	repo.users[f.userID] = &User{ID: f.userID, FullName: "Asha Rao"}
	repo.vaccines[f.vaccineID] = &Vaccine{ID: f.vaccineID, Name: "Covishield", Manufacturer: "Serum Institute", DosesRequired: 2}
	repo.centers[f.centerID] = &Center{ID: f.centerID, Name: "Central District Clinic", City: "Pune"}

	return f
}

// addDateSlot registers an active date slot for the fixture center, dated
// daysFromNow at midnight UTC.
func (f *fixture) addDateSlot(capacity, daysFromNow int) *DateSlot {
	date := time.Now().UTC().AddDate(0, 0, daysFromNow).Truncate(24 * time.Hour)
	slot := &DateSlot{
		ID:       uuid.New(),
		CenterID: f.centerID,
		Date:     date,
		Capacity: capacity,
		Status:   DateSlotActive,
	}
	f.repo.dateSlots[slot.ID] = slot
	return slot
}

// addTimeSlot registers a pre-existing time slot so provisioning is a no-op.
func (f *fixture) addTimeSlot(dateSlot *DateSlot, startHour, capacity, booked int) *TimeSlot {
	start := dateSlot.Date.Add(time.Duration(startHour) * time.Hour)
	ts := &TimeSlot{
		ID:         uuid.New(),
		CenterID:   dateSlot.CenterID,
		DateSlotID: dateSlot.ID,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		Capacity:   capacity,
		Booked:     booked,
	}
	f.repo.timeSlots[ts.ID] = ts
	return ts
}

func TestCreateAppointment_FirstBookingProvisionsLadder(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(500, 2)

	appt, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	// The default ladder materialized on first use.
	count, err := f.repo.CountTimeSlots(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, LadderSlotCount, count)

	for _, ts := range f.repo.timeSlots {
		assert.Equal(t, DefaultTimeSlotCapacity, ts.Capacity)
	}

	// The booking landed in the earliest interval.
	expectedStart := slot.Date.Add(LadderStartHour * time.Hour)
	assert.True(t, appt.StartTime.Equal(expectedStart), "expected start %s, got %s", expectedStart, appt.StartTime)
	assert.True(t, appt.EndTime.Equal(expectedStart.Add(time.Hour)))
	assert.Equal(t, StatusPending, appt.Status)
	assert.True(t, appt.Date.Equal(slot.Date))

	// Both counters reflect the occupancy.
	assert.Equal(t, 1, f.repo.dateSlots[slot.ID].Booked)
	assert.Equal(t, 1, f.repo.timeSlots[appt.TimeSlotID].Booked)
}

func TestCreateAppointment_ValidationOrder(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	bogus := uuid.New()

	tests := []struct {
		name       string
		userID     uuid.UUID
		vaccineID  uuid.UUID
		centerID   uuid.UUID
		dateSlotID uuid.UUID
		wantErr    error
	}{
		{"unknown user reported first", bogus, bogus, bogus, bogus, ErrUserNotFound},
		{"unknown vaccine", f.userID, bogus, bogus, bogus, ErrVaccineNotFound},
		{"unknown center", f.userID, f.vaccineID, bogus, bogus, ErrCenterNotFound},
		{"unknown date slot", f.userID, f.vaccineID, f.centerID, bogus, ErrDateSlotNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(context.Background(), tt.userID, tt.vaccineID, tt.centerID, tt.dateSlotID, nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing above should have booked anything.
	assert.Equal(t, 0, f.repo.dateSlots[slot.ID].Booked)
}

func TestCreateAppointment_ClosedDateSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	slot.Status = DateSlotClosed

	_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCreateAppointment_DateSlotAlreadyFull(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(5, 2)
	slot.Booked = 5

	_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	assert.ErrorIs(t, err, ErrSlotFull)
}

func TestCreateAppointment_PicksEarliestOpenSlot(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(100, 2)

	f.addTimeSlot(slot, 9, 1, 1)  // full
	open10 := f.addTimeSlot(slot, 10, 5, 0)
	f.addTimeSlot(slot, 11, 3, 0)

	appt, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, open10.ID, appt.TimeSlotID)
	assert.True(t, appt.StartTime.Equal(open10.StartTime))
	assert.Equal(t, 1, f.repo.timeSlots[open10.ID].Booked)
}

func TestCreateAppointment_LadderExhaustedDespiteDayCounterRoom(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	f.addTimeSlot(slot, 9, 1, 1) // only interval, already full

	_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	assert.ErrorIs(t, err, ErrSlotFull)
	assert.Equal(t, 0, f.repo.dateSlots[slot.ID].Booked)
}

func TestCreateAppointment_ExhaustionUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(1, 2)
	ts := f.addTimeSlot(slot, 9, 1, 0)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, slotFull int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			assert.ErrorIs(t, err, ErrSlotFull)
			slotFull++
		}
	}

	assert.Equal(t, 1, successes, "exactly one of two concurrent bookings must win")
	assert.Equal(t, 1, slotFull)
	assert.Equal(t, 1, f.repo.dateSlots[slot.ID].Booked, "date counter must be 1, not 2")
	assert.Equal(t, 1, f.repo.timeSlots[ts.ID].Booked, "time counter must be 1, not 2")
}

func TestCreateAppointment_CapacityInvariantUnderLoad(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(20, 2)
	f.addTimeSlot(slot, 9, 10, 0)
	f.addTimeSlot(slot, 10, 10, 0)
	f.addTimeSlot(slot, 11, 10, 0)

	const attempts = 50

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}

	assert.Equal(t, slot.Capacity, successes, "successful bookings must equal day capacity")

	ds := f.repo.dateSlots[slot.ID]
	assert.Equal(t, ds.Capacity, ds.Booked)
	assert.LessOrEqual(t, ds.Booked, ds.Capacity)

	sum := 0
	for _, ts := range f.repo.timeSlots {
		assert.LessOrEqual(t, ts.Booked, ts.Capacity, "time slot oversold")
		sum += ts.Booked
	}
	assert.Equal(t, ds.Booked, sum, "counters drifted between levels")
}

func TestCreateAppointment_ConcurrentFirstBookingsProvisionOneLadder(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(400, 2)

	const attempts = 10

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := f.repo.CountTimeSlots(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, LadderSlotCount, count, "exactly one ladder, never a duplicate")
}

// racingRepo stands in for concurrent winners: the next `conflicts` booking
// writes fail as if another request incremented the chosen time slot first.
// With fillOnConflict the loser also sees that slot filled, the way it would
// after a real lost race.
type racingRepo struct {
	*memRepo
	conflicts      int
	fillOnConflict bool
	selectCalls    int
}

func (r *racingRepo) EarliestAvailableTimeSlot(ctx context.Context, dateSlotID uuid.UUID) (*TimeSlot, error) {
	r.selectCalls++
	return r.memRepo.EarliestAvailableTimeSlot(ctx, dateSlotID)
}

func (r *racingRepo) BookAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	if r.conflicts > 0 {
		r.conflicts--
		if r.fillOnConflict {
			r.memRepo.mu.Lock()
			ts := r.memRepo.timeSlots[appt.TimeSlotID]
			ts.Booked = ts.Capacity
			r.memRepo.mu.Unlock()
		}
		return nil, ErrTimeSlotConflict
	}
	return r.memRepo.BookAppointment(ctx, appt)
}

func TestCreateAppointment_RetriesExhaustedOnPersistentConflict(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	ts := f.addTimeSlot(slot, 9, 5, 0)

	repo := &racingRepo{memRepo: f.repo, conflicts: bookingAttempts}
	svc := NewService(repo, newFakeLocker(), testLogger())

	_, err := svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	assert.ErrorIs(t, err, ErrBookingConflict)

	// Every attempt re-selected before giving up, and nothing landed.
	assert.Equal(t, bookingAttempts, repo.selectCalls)
	assert.Equal(t, 0, repo.conflicts)
	assert.Empty(t, f.repo.appointments)
	assert.Equal(t, 0, f.repo.dateSlots[slot.ID].Booked)
	assert.Equal(t, 0, f.repo.timeSlots[ts.ID].Booked)
}

func TestCreateAppointment_RetryBooksNextSlotAfterLostRace(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	f.addTimeSlot(slot, 9, 1, 0)
	open10 := f.addTimeSlot(slot, 10, 5, 0)

	repo := &racingRepo{memRepo: f.repo, conflicts: 1, fillOnConflict: true}
	svc := NewService(repo, newFakeLocker(), testLogger())

	appt, err := svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	// First selection chose 09:00 and lost it; the retry moved on to 10:00.
	assert.Equal(t, 2, repo.selectCalls)
	assert.Equal(t, open10.ID, appt.TimeSlotID)
	assert.Equal(t, 1, f.repo.timeSlots[open10.ID].Booked)
	assert.Equal(t, 1, f.repo.dateSlots[slot.ID].Booked)
}

func TestCreateAppointment_CounterFaultLeavesNoOrphan(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)
	ts := f.addTimeSlot(slot, 9, 5, 0)

	f.repo.failCounterOnce = true

	_, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjectedCounterFault)

	// No half-committed state: no appointment, no counter movement.
	list, err := f.svc.ListAppointmentsForUser(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, f.repo.dateSlots[slot.ID].Booked)
	assert.Equal(t, 0, f.repo.timeSlots[ts.ID].Booked)
}

func TestCompleteAppointment(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)

	appt, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	completed, err := f.svc.CompleteAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// Completing twice is a refused transition, not a not-found.
	_, err = f.svc.CompleteAppointment(context.Background(), appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.CompleteAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)

	pastSlot := f.addDateSlot(10, -2)
	futureSlot := f.addDateSlot(10, 2)

	overdue, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, pastSlot.ID, nil)
	require.NoError(t, err)
	upcoming, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, futureSlot.ID, nil)
	require.NoError(t, err)

	swept, err := f.svc.SweepNoShows(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	assert.Equal(t, StatusNoShow, f.repo.appointments[overdue.ID].Status)
	assert.Equal(t, StatusPending, f.repo.appointments[upcoming.ID].Status)

	// A second sweep finds nothing left to do.
	swept, err = f.svc.SweepNoShows(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestListAppointmentsForCenter_Filters(t *testing.T) {
	f := newFixture(t)
	slotA := f.addDateSlot(10, 2)
	slotB := f.addDateSlot(10, 3)

	apptA, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slotA.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slotB.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.CompleteAppointment(context.Background(), apptA.ID)
	require.NoError(t, err)

	all, err := f.svc.ListAppointmentsForCenter(context.Background(), f.centerID, CenterAppointmentsFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed := StatusCompleted
	byStatus, err := f.svc.ListAppointmentsForCenter(context.Background(), f.centerID, CenterAppointmentsFilter{Status: &completed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, apptA.ID, byStatus[0].ID)

	byDate, err := f.svc.ListAppointmentsForCenter(context.Background(), f.centerID, CenterAppointmentsFilter{Date: &slotB.Date})
	require.NoError(t, err)
	require.Len(t, byDate, 1)
	assert.True(t, byDate[0].Date.Equal(slotB.Date))

	// Projection carries the denormalized display fields.
	assert.Equal(t, "Covishield", all[0].VaccineName)
	assert.Equal(t, "Central District Clinic", all[0].CenterName)
}

func TestListAppointmentsForUser_NewestFirst(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)

	first, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	// Force distinct creation times.
	f.repo.mu.Lock()
	f.repo.appointments[first.ID].CreatedAt = time.Now().Add(-time.Minute)
	f.repo.mu.Unlock()

	second, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, nil)
	require.NoError(t, err)

	list, err := f.svc.ListAppointmentsForUser(context.Background(), f.userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}

func TestGetAppointment(t *testing.T) {
	f := newFixture(t)
	slot := f.addDateSlot(10, 2)

	notes := "second dose"
	appt, err := f.svc.CreateAppointment(context.Background(), f.userID, f.vaccineID, f.centerID, slot.ID, &notes)
	require.NoError(t, err)

	detail, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, detail.ID)
	require.NotNil(t, detail.Notes)
	assert.Equal(t, notes, *detail.Notes)
	assert.Equal(t, "Serum Institute", detail.Manufacturer)
	assert.Equal(t, "Pune", detail.CenterCity)

	_, err = f.svc.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
