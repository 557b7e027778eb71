package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/schedule"
)

var (
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrReservationNotFound = errors.New("slot reservation not found")
)

// Repository contains all DB interactions needed by the booking engine.
type Repository interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*schedule.Doctor, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, clinicID, doctorID uuid.UUID, date string) ([]Appointment, error)

	// CountActiveAdvance counts pending/confirmed/completed advance
	// appointments for the doctor-date; exclude skips one appointment's own
	// reservation when editing (no self-blocking).
	CountActiveAdvance(ctx context.Context, clinicID, doctorID uuid.UUID, date string, exclude *uuid.UUID) (int, error)

	// CreateReservation inserts a held ledger entry; a live entry for the
	// same (clinic, doctor, date, slot) makes it fail with ErrSlotOccupied.
	CreateReservation(ctx context.Context, res SlotReservation) error

	// CommitAppointment atomically re-reads the held reservation, verifies it
	// against the appointment's slot, checks no active appointment occupies
	// the slot, inserts the appointment and flips the reservation to booked.
	// classicCounterID, when non-empty, also draws the next classic token in
	// the same transaction.
	CommitAppointment(ctx context.Context, reservationID uuid.UUID, appt *Appointment, classicCounterID string) (*Appointment, error)

	// ConfirmArrival moves pending to confirmed; classicCounterID as above.
	ConfirmArrival(ctx context.Context, id uuid.UUID, classicCounterID string) (*Appointment, error)

	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	UpdateAppointment(ctx context.Context, appt *Appointment) error

	// ShiftSlotIndexes closes the gap a skip leaves: every active appointment
	// of the doctor-date with slot_index > afterSlot moves down by one.
	ShiftSlotIndexes(ctx context.Context, clinicID, doctorID uuid.UUID, date string, afterSlot int) error

	// FindPastCutoff returns pending/confirmed appointments whose cutoff has
	// passed without arrival, for the status-refresh sweep.
	FindPastCutoff(ctx context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
