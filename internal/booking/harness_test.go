package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opdqueue/token-engine/internal/clock"
	"github.com/opdqueue/token-engine/internal/schedule"
)

// memRepo is an in-memory Repository honoring the same ledger semantics as
// the Postgres implementation: reservation rows transition held to booked and
// are never deleted, commits re-check the slot, the classic counter bumps
// atomically under the repo lock.
type memRepo struct {
	mu           sync.Mutex
	clinics      map[uuid.UUID]*Clinic
	doctors      map[uuid.UUID]*schedule.Doctor
	appts        map[uuid.UUID]*Appointment
	reservations map[uuid.UUID]*SlotReservation
	counters     map[string]int
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		clinics:      make(map[uuid.UUID]*Clinic),
		doctors:      make(map[uuid.UUID]*schedule.Doctor),
		appts:        make(map[uuid.UUID]*Appointment),
		reservations: make(map[uuid.UUID]*SlotReservation),
		counters:     make(map[string]int),
	}
}

func (r *memRepo) addClinic(c Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := c
	r.clinics[c.ID] = &cp
}

func (r *memRepo) addDoctor(d *schedule.Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.doctors[d.ID] = &cp
}

func (r *memRepo) addReservation(res SlotReservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := res
	r.reservations[res.ID] = &cp
}

func (r *memRepo) addAppointment(a Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := a
	r.appts[a.ID] = &cp
}

func (r *memRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*schedule.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) ListAppointments(_ context.Context, clinicID, doctorID uuid.UUID, date string) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.DoctorID == doctorID && a.Date == date {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SlotIndex < result[j].SlotIndex })
	return result, nil
}

func (r *memRepo) CountActiveAdvance(_ context.Context, clinicID, doctorID uuid.UUID, date string, exclude *uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, a := range r.appts {
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.ClinicID != clinicID || a.DoctorID != doctorID || a.Date != date {
			continue
		}
		if a.BookedVia != ChannelAdvance {
			continue
		}
		if a.Status == StatusPending || a.Status == StatusConfirmed || a.Status == StatusCompleted {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) CreateReservation(_ context.Context, res SlotReservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.reservations {
		if existing.ClinicID != res.ClinicID ||
			existing.DoctorID != res.DoctorID ||
			existing.Date != res.Date ||
			existing.SlotIndex != res.SlotIndex {
			continue
		}
		if existing.Status == ReservationHeld {
			return ErrSlotOccupied
		}
		// a booked row only blocks while its appointment still occupies the slot
		if existing.AppointmentID != nil {
			if a, ok := r.appts[*existing.AppointmentID]; ok &&
				a.Status.Active() && a.SlotIndex == existing.SlotIndex {
				return ErrSlotOccupied
			}
		}
	}

	cp := res
	cp.Status = ReservationHeld
	r.reservations[res.ID] = &cp
	return nil
}

func (r *memRepo) CommitAppointment(_ context.Context, reservationID uuid.UUID, appt *Appointment, classicCounterID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	if res.Status != ReservationHeld {
		return nil, ErrSlotAlreadyBooked
	}
	if res.SlotIndex != appt.SlotIndex ||
		res.ClinicID != appt.ClinicID ||
		res.DoctorName != appt.DoctorName {
		return nil, ErrReservationMismatch
	}

	for _, a := range r.appts {
		if a.ClinicID == appt.ClinicID && a.DoctorID == appt.DoctorID &&
			a.Date == appt.Date && a.SlotIndex == appt.SlotIndex && a.Status.Active() {
			return nil, ErrSlotAlreadyBooked
		}
	}

	cp := *appt
	if classicCounterID != "" {
		r.counters[classicCounterID]++
		n := r.counters[classicCounterID]
		cp.ClassicToken = &n
	}

	r.appts[cp.ID] = &cp
	res.Status = ReservationBooked
	res.AppointmentID = &cp.ID

	out := cp
	return &out, nil
}

func (r *memRepo) ConfirmArrival(_ context.Context, id uuid.UUID, classicCounterID string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.Status != StatusPending {
		return nil, ErrAppointmentNotFound
	}

	a.Status = StatusConfirmed
	if classicCounterID != "" {
		r.counters[classicCounterID]++
		n := r.counters[classicCounterID]
		a.ClassicToken = &n
	}

	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to

	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointment(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[appt.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Time = appt.Time
	a.SlotIndex = appt.SlotIndex
	a.SessionIndex = appt.SessionIndex
	a.TokenNumber = appt.TokenNumber
	a.NumericToken = appt.NumericToken
	a.IsPriority = appt.IsPriority
	a.PrioritySetAt = appt.PrioritySetAt
	a.InBuffer = appt.InBuffer
	a.BufferEnteredAt = appt.BufferEnteredAt
	a.CutOffTime = appt.CutOffTime
	a.NoShowTime = appt.NoShowTime
	a.ArriveByTime = appt.ArriveByTime
	a.DelayMins = appt.DelayMins
	return nil
}

func (r *memRepo) ShiftSlotIndexes(_ context.Context, clinicID, doctorID uuid.UUID, date string, afterSlot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.DoctorID == doctorID && a.Date == date &&
			a.SlotIndex > afterSlot && a.Status.Active() {
			a.SlotIndex--
		}
	}
	return nil
}

func (r *memRepo) FindPastCutoff(_ context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.appts {
		if a.ClinicID == clinicID && a.Status == StatusPending && a.CutOffTime.Before(now) {
			result = append(result, *a)
		}
	}
	return result, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		types = append(types, ev.EventType)
	}
	return types
}

// passLocker runs the critical section without real locking; the ledger
// re-check in memRepo still guards correctness, same as in production.
type passLocker struct{}

func (passLocker) WithSlotLock(_ context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(context.Background())
}

// Fixture helpers

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) // a Monday

func dayAt(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func newTestDoctor(clinicID uuid.UUID, consultingMins int, windows ...schedule.SessionWindow) *schedule.Doctor {
	return &schedule.Doctor{
		ID:                    uuid.New(),
		ClinicID:              clinicID,
		Name:                  "Dr. Menon",
		AverageConsultingMins: consultingMins,
		ConsultationStatus:    schedule.ConsultationOut,
		Availability: schedule.Availability{
			Weekly: map[string][]schedule.SessionWindow{"monday": windows},
		},
	}
}

type harness struct {
	repo   *memRepo
	svc    *Service
	clinic Clinic
	doc    *schedule.Doctor
}

func newHarness(mode TokenMode, now time.Time, consultingMins int, windows ...schedule.SessionWindow) *harness {
	repo := newMemRepo()

	clinic := Clinic{ID: uuid.New(), Name: "City Clinic", TokenDistribution: mode}
	repo.addClinic(clinic)

	doc := newTestDoctor(clinic.ID, consultingMins, windows...)
	repo.addDoctor(doc)

	clk := clock.Fixed(now)
	alloc := NewAllocator(repo, passLocker{}, clk, DefaultAllocatorOptions())
	svc := NewService(repo, alloc, clk, DefaultServiceOptions(), zap.NewNop())

	return &harness{repo: repo, svc: svc, clinic: clinic, doc: doc}
}

func (h *harness) bookingRequest(patient string) BookingRequest {
	return BookingRequest{
		ClinicID:    h.clinic.ID,
		DoctorID:    h.doc.ID,
		PatientName: patient,
		Date:        testDay,
	}
}
