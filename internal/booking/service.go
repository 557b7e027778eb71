package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opdqueue/token-engine/internal/clock"
	"github.com/opdqueue/token-engine/internal/schedule"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventNextPatientsInQueue    = "NEXT_PATIENTS_IN_QUEUE"
)

type ServiceOptions struct {
	ArriveByLead      time.Duration // arrive-by is this long before the slot
	CutoffGrace       time.Duration // cutoff is this long after the slot
	NoShowRejoinDelay time.Duration // no-show rejoin lands at now + this
	SkipRejoinGrace   time.Duration // skipped rejoin past the slot adds this
	BufferSize        int
	PriorityCap       int
}

func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		ArriveByLead:      15 * time.Minute,
		CutoffGrace:       15 * time.Minute,
		NoShowRejoinDelay: 30 * time.Minute,
		SkipRejoinGrace:   15 * time.Minute,
		BufferSize:        2,
		PriorityCap:       3,
	}
}

// Service wires the allocator, ledger and queue maintenance into the staff
// facing operations. Reservation/commit failures abort the whole booking;
// event emission never rolls back a committed change.
type Service struct {
	repo  Repository
	alloc *Allocator
	clk   clock.Clock
	opts  ServiceOptions
	log   *zap.Logger
}

func NewService(repo Repository, alloc *Allocator, clk clock.Clock, opts ServiceOptions, log *zap.Logger) *Service {
	return &Service{repo: repo, alloc: alloc, clk: clk, opts: opts, log: log}
}

func (s *Service) Allocator() *Allocator { return s.alloc }

type BookingRequest struct {
	ClinicID      uuid.UUID
	DoctorID      uuid.UUID
	PatientName   string
	Date          time.Time
	RequestedTime *time.Time
	RequestedSlot *int
}

// BookAdvance reserves the first legal advance slot and durably creates the
// appointment through the two-phase ledger protocol.
func (s *Service) BookAdvance(ctx context.Context, req BookingRequest) (*Appointment, error) {
	doc, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	res, err := s.alloc.ReserveAdvance(ctx, doc, req.Date, req.RequestedTime, req.RequestedSlot, nil)
	if err != nil {
		return nil, err
	}

	appt := s.buildAppointment(doc, req, res, ChannelAdvance, StatusPending)
	created, err := s.repo.CommitAppointment(ctx, res.ReservationID, appt, "")
	if err != nil {
		return nil, err
	}

	s.emit(ctx, created, EventAppointmentBooked)
	return created, nil
}

// BookWalkIn reserves a walk-in slot (or, with force, a bounded overflow
// slot) and creates the appointment already confirmed, since the patient is
// at the clinic. Classic clinics draw the classic token in the same
// transaction because a walk-in booking doubles as arrival confirmation.
func (s *Service) BookWalkIn(ctx context.Context, req BookingRequest, force bool) (*Appointment, error) {
	doc, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	clinic, err := s.repo.GetClinicByID(ctx, req.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	res, err := s.alloc.ReserveWalkIn(ctx, doc, req.Date, force)
	if err != nil {
		return nil, err
	}

	appt := s.buildAppointment(doc, req, res, ChannelWalkIn, StatusConfirmed)

	counterID := ""
	if clinic.TokenDistribution == ModeClassic {
		counterID = ClassicCounterID(doc.ClinicID, doc.ID, appt.Date, res.SessionIndex)
	}

	created, err := s.repo.CommitAppointment(ctx, res.ReservationID, appt, counterID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, created, EventAppointmentBooked)
	return created, nil
}

func (s *Service) buildAppointment(doc *schedule.Doctor, req BookingRequest, res *Reservation, via Channel, status Status) *Appointment {
	cutoff := res.Time.Add(s.opts.CutoffGrace)
	return &Appointment{
		ID:           uuid.New(),
		ClinicID:     doc.ClinicID,
		DoctorID:     doc.ID,
		DoctorName:   doc.Name,
		PatientName:  req.PatientName,
		Date:         schedule.DateKey(req.Date),
		Time:         res.Time,
		SlotIndex:    res.SlotIndex,
		SessionIndex: res.SessionIndex,
		BookedVia:    via,
		Status:       status,
		TokenNumber:  res.TokenNumber,
		NumericToken: res.NumericToken,
		ForceBooked:  res.ForceBooked,
		ArriveByTime: res.Time.Add(-s.opts.ArriveByLead),
		CutOffTime:   cutoff,
		NoShowTime:   cutoff,
	}
}

// ConfirmArrival moves a pending appointment to confirmed; classic clinics
// pull the next classic token in the same transaction so two concurrent
// confirmations can never share a number.
func (s *Service) ConfirmArrival(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}

	clinic, err := s.repo.GetClinicByID(ctx, appt.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	counterID := ""
	if clinic.TokenDistribution == ModeClassic {
		counterID = ClassicCounterID(appt.ClinicID, appt.DoctorID, appt.Date, appt.SessionIndex)
	}

	confirmed, err := s.repo.ConfirmArrival(ctx, id, counterID)
	if err != nil {
		return nil, err
	}

	s.maintainBuffer(ctx, confirmed.ClinicID, confirmed.DoctorID, confirmed.Date)
	return confirmed, nil
}

// Skip marks the appointment skipped and shifts every later active slot of
// the doctor-date down by one, keeping slot indices contiguous for all later
// time-based lookups.
func (s *Service) Skip(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := s.requireStatus(ctx, id, StatusConfirmed); err != nil {
		return nil, err
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusConfirmed, StatusSkipped)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ShiftSlotIndexes(ctx, appt.ClinicID, appt.DoctorID, appt.Date, appt.SlotIndex); err != nil {
		return nil, fmt.Errorf("shift slot indexes: %w", err)
	}

	s.maintainBuffer(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	return appt, nil
}

// Complete finishes a confirmed appointment and refills the buffer.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := s.requireStatus(ctx, id, StatusConfirmed); err != nil {
		return nil, err
	}

	appt, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusConfirmed, StatusCompleted)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, appt, EventAppointmentCompleted)
	s.maintainBuffer(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	return appt, nil
}

// Cancel terminates a pending or confirmed appointment.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.UpdateAppointmentStatus(ctx, id, StatusPending, StatusCancelled)
	if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrAppointmentNotFound) {
		appt, err = s.repo.UpdateAppointmentStatus(ctx, id, StatusConfirmed, StatusCancelled)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, appt, EventAppointmentCancelled)
	s.maintainBuffer(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	return appt, nil
}

// Reschedule re-runs slot selection at the new time, excluding the
// appointment's own reservation from the capacity count, and moves the
// appointment to the newly held slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newTime time.Time) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Status.Active() {
		return nil, ErrInvalidStatusTransition
	}

	doc, err := s.repo.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	date, err := time.ParseInLocation("2006-01-02", appt.Date, newTime.Location())
	if err != nil {
		return nil, fmt.Errorf("parse appointment date: %w", err)
	}

	res, err := s.alloc.ReserveAdvance(ctx, doc, date, &newTime, nil, &appt.ID)
	if err != nil {
		return nil, err
	}

	appt.Time = res.Time
	appt.SlotIndex = res.SlotIndex
	appt.SessionIndex = res.SessionIndex
	appt.TokenNumber = res.TokenNumber
	appt.NumericToken = res.NumericToken
	appt.ArriveByTime = res.Time.Add(-s.opts.ArriveByLead)
	appt.CutOffTime = res.Time.Add(s.opts.CutoffGrace)
	appt.NoShowTime = appt.CutOffTime

	if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.emit(ctx, appt, EventAppointmentRescheduled)
	return appt, nil
}

// Rejoin reinstates a skipped or no-show appointment as confirmed with a
// recomputed time: no-shows always land at now + the rejoin delay; skipped
// patients keep their no-show deadline, plus a grace period when the original
// slot is already in the past. When the skip compaction has moved a later
// appointment onto the old slot index, the rejoined appointment is appended
// after the day's last active slot instead.
func (s *Service) Rejoin(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	now := s.clk.Now()
	var newTime time.Time
	switch appt.Status {
	case StatusNoShow:
		newTime = now.Add(s.opts.NoShowRejoinDelay)
	case StatusSkipped:
		newTime = appt.NoShowTime
		if now.After(appt.Time) {
			newTime = appt.NoShowTime.Add(s.opts.SkipRejoinGrace)
		}
	default:
		return nil, ErrInvalidStatusTransition
	}

	appts, err := s.repo.ListAppointments(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	lastActive := -1
	taken := false
	for _, a := range appts {
		if a.ID == appt.ID || !a.Status.Active() {
			continue
		}
		if a.SlotIndex == appt.SlotIndex {
			taken = true
		}
		if a.SlotIndex > lastActive {
			lastActive = a.SlotIndex
		}
	}
	if taken {
		appt.SlotIndex = lastActive + 1
	}

	// move slot and time while still inactive, then flip the status; the
	// flip is what re-enters the active-slot uniqueness scope
	from := appt.Status
	appt.DelayMins = int(newTime.Sub(appt.Time).Minutes())
	appt.Time = newTime
	if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if _, err := s.repo.UpdateAppointmentStatus(ctx, id, from, StatusConfirmed); err != nil {
		return nil, err
	}
	appt.Status = StatusConfirmed
	return appt, nil
}

// SetPriority elevates or clears the manual priority flag. The priority
// queue holds at most PriorityCap patients; a request past the cap is
// rejected without mutating anything.
func (s *Service) SetPriority(ctx context.Context, id uuid.UUID, priority bool) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.IsPriority == priority {
		return appt, nil
	}

	if priority {
		appts, err := s.repo.ListAppointments(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
		if err != nil {
			return nil, fmt.Errorf("list appointments: %w", err)
		}
		count := 0
		for _, a := range appts {
			if a.IsPriority && a.Status.Active() {
				count++
			}
		}
		if count >= s.opts.PriorityCap {
			return nil, ErrPriorityQueueFull
		}
		now := s.clk.Now()
		appt.IsPriority = true
		appt.PrioritySetAt = &now
	} else {
		appt.IsPriority = false
		appt.PrioritySetAt = nil
	}

	if err := s.repo.UpdateAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	return appt, nil
}

// RefreshStatuses is the periodic sweep: any pending/confirmed appointment
// whose cutoff passed without completion becomes a no-show, and affected
// buffers are refilled.
func (s *Service) RefreshStatuses(ctx context.Context, clinicID uuid.UUID) error {
	now := s.clk.Now()
	stale, err := s.repo.FindPastCutoff(ctx, clinicID, now)
	if err != nil {
		return fmt.Errorf("find past-cutoff appointments: %w", err)
	}

	for _, appt := range stale {
		if _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("mark no-show failed",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		s.maintainBuffer(ctx, appt.ClinicID, appt.DoctorID, appt.Date)
	}

	return nil
}

// requireStatus distinguishes a missing appointment from one in the wrong
// state, so callers surface an actionable conflict instead of a 404 for an
// appointment that exists.
func (s *Service) requireStatus(ctx context.Context, id uuid.UUID, want Status) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != want {
		return ErrInvalidStatusTransition
	}
	return nil
}

// maintainBuffer persists buffer promotions after any change that can drain
// the next-up set. Buffer errors are logged, never surfaced: the queue is a
// projection and the next compute heals it.
func (s *Service) maintainBuffer(ctx context.Context, clinicID, doctorID uuid.UUID, date string) {
	doc, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		s.log.Warn("buffer refill: load doctor failed", zap.Error(err))
		return
	}
	if doc.ConsultationStatus != schedule.ConsultationIn {
		return
	}

	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		s.log.Warn("buffer refill: load clinic failed", zap.Error(err))
		return
	}

	appts, err := s.repo.ListAppointments(ctx, clinicID, doctorID, date)
	if err != nil {
		s.log.Warn("buffer refill: list appointments failed", zap.Error(err))
		return
	}

	now := s.clk.Now()
	promoted := PlanBufferRefill(appts, clinic.TokenDistribution, s.opts.BufferSize)
	for _, id := range promoted {
		for i := range appts {
			if appts[i].ID != id {
				continue
			}
			appts[i].InBuffer = true
			appts[i].BufferEnteredAt = &now
			if err := s.repo.UpdateAppointment(ctx, &appts[i]); err != nil {
				s.log.Warn("buffer refill: update failed",
					zap.String("appointment_id", id.String()),
					zap.Error(err))
				continue
			}
			s.emit(ctx, &appts[i], EventNextPatientsInQueue)
		}
	}
}

// emit records a side-effect trigger for external collaborators; a failed
// insert never rolls back the committed change it describes.
func (s *Service) emit(ctx context.Context, appt *Appointment, eventType string) {
	payload, err := json.Marshal(map[string]any{
		"doctor":     appt.DoctorName,
		"date":       appt.Date,
		"time":       appt.Time,
		"token":      appt.TokenNumber,
		"arrive_by":  appt.ArriveByTime,
		"booked_via": appt.BookedVia,
	})
	if err != nil {
		s.log.Warn("marshal event payload failed", zap.String("event", eventType), zap.Error(err))
		payload = nil
	}

	apptID := appt.ID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       payload,
		CreatedAt:     s.clk.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log failed",
			zap.String("event", eventType),
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
	}
}
