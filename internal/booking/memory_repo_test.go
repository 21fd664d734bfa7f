package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errInjectedCounterFault = errors.New("injected counter write fault")

// memRepo is an in-memory Repository honoring the same contract as the
// Postgres implementation: BookAppointment is atomic (conditional increments
// plus insert, all or nothing) and CreateTimeSlots enforces the
// (date_slot_id, start_time) uniqueness rule.
type memRepo struct {
	mu           sync.Mutex
	users        map[uuid.UUID]*User
	vaccines     map[uuid.UUID]*Vaccine
	centers      map[uuid.UUID]*Center
	dateSlots    map[uuid.UUID]*DateSlot
	timeSlots    map[uuid.UUID]*TimeSlot
	appointments map[uuid.UUID]*Appointment

	// failCounterOnce makes the next BookAppointment fail after the
	// appointment write, forcing the compensation path.
	failCounterOnce bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:        make(map[uuid.UUID]*User),
		vaccines:     make(map[uuid.UUID]*Vaccine),
		centers:      make(map[uuid.UUID]*Center),
		dateSlots:    make(map[uuid.UUID]*DateSlot),
		timeSlots:    make(map[uuid.UUID]*TimeSlot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *memRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) GetVaccineByID(ctx context.Context, id uuid.UUID) (*Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vaccines[id]
	if !ok {
		return nil, ErrVaccineNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memRepo) GetCenterByID(ctx context.Context, id uuid.UUID) (*Center, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centers[id]
	if !ok {
		return nil, ErrCenterNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetDateSlotByID(ctx context.Context, id uuid.UUID) (*DateSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dateSlots[id]
	if !ok {
		return nil, ErrDateSlotNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memRepo) CountTimeSlots(ctx context.Context, dateSlotID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, t := range m.timeSlots {
		if t.DateSlotID == dateSlotID {
			count++
		}
	}
	return count, nil
}

func (m *memRepo) CreateTimeSlots(ctx context.Context, slots []TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Uniqueness check first so the whole batch is all-or-nothing.
	for _, s := range slots {
		for _, existing := range m.timeSlots {
			if existing.DateSlotID == s.DateSlotID && existing.StartTime.Equal(s.StartTime) {
				return ErrDuplicateLadder
			}
		}
	}

	now := time.Now()
	for _, s := range slots {
		cp := s
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.timeSlots[cp.ID] = &cp
	}
	return nil
}

func (m *memRepo) EarliestAvailableTimeSlot(ctx context.Context, dateSlotID uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *TimeSlot
	for _, t := range m.timeSlots {
		if t.DateSlotID != dateSlotID || t.IsFull() {
			continue
		}
		if best == nil || t.StartTime.Before(best.StartTime) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoOpenTimeSlot
	}
	cp := *best
	return &cp, nil
}

func (m *memRepo) BookAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok := m.timeSlots[appt.TimeSlotID]
	if !ok || ts.IsFull() {
		return nil, ErrTimeSlotConflict
	}

	ds, ok := m.dateSlots[appt.DateSlotID]
	if !ok {
		return nil, ErrDateSlotNotFound
	}
	if ds.Status != DateSlotActive {
		return nil, ErrSlotUnavailable
	}
	if ds.IsFull() {
		return nil, ErrSlotFull
	}

	now := time.Now()
	created := *appt
	created.ID = uuid.New()
	created.Status = StatusPending
	created.CreatedAt = now
	created.UpdatedAt = now
	m.appointments[created.ID] = &created

	// Simulated storage fault between the appointment write and the counter
	// writes: compensate by removing the appointment, exactly what the real
	// transaction rollback gives us for free.
	if m.failCounterOnce {
		m.failCounterOnce = false
		delete(m.appointments, created.ID)
		return nil, errInjectedCounterFault
	}

	ts.Booked++
	ds.Booked++
	return &created, nil
}

func (m *memRepo) detailFor(a *Appointment) AppointmentDetail {
	d := AppointmentDetail{Appointment: *a}
	if v, ok := m.vaccines[a.VaccineID]; ok {
		d.VaccineName = v.Name
		d.Manufacturer = v.Manufacturer
	}
	if c, ok := m.centers[a.CenterID]; ok {
		d.CenterName = c.Name
		d.CenterCity = c.City
	}
	return d
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := m.detailFor(a)
	return &d, nil
}

func (m *memRepo) ListAppointmentsByUser(ctx context.Context, userID uuid.UUID) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range m.appointments {
		if a.UserID == userID {
			result = append(result, m.detailFor(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memRepo) ListAppointmentsByCenter(ctx context.Context, centerID uuid.UUID, filter CenterAppointmentsFilter) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []AppointmentDetail
	for _, a := range m.appointments {
		if a.CenterID != centerID {
			continue
		}
		if filter.Date != nil && !a.Date.Equal(*filter.Date) {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		result = append(result, m.detailFor(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (m *memRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, completedAt *time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	if completedAt != nil {
		a.CompletedAt = completedAt
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) FindOverduePending(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusPending && a.EndTime.Before(cutoff) {
			result = append(result, *a)
		}
	}
	return result, nil
}

// fakeLocker serializes critical sections per date slot in-process, standing
// in for the Redis locker.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *fakeLocker) WithDateSlotLock(ctx context.Context, dateSlotID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lock, ok := l.locks[dateSlotID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[dateSlotID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}
