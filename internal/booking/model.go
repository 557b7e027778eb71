package booking

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusSkipped   Status = "skipped"
	StatusNoShow    Status = "no_show"
)

// Active reports whether the status still occupies a slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal statuses can never be resurrected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Channel string

const (
	ChannelAdvance Channel = "advance"
	ChannelWalkIn  Channel = "walk_in"
)

type TokenMode string

const (
	ModeAdvanced TokenMode = "advanced"
	ModeClassic  TokenMode = "classic"
)

var (
	ErrSlotOccupied            = errors.New("slot is already taken, pick another time")
	ErrSlotAlreadyBooked       = errors.New("slot was booked by a concurrent request, re-select a slot")
	ErrAdvanceCapacityReached  = errors.New("no advance capacity left for this doctor on this date")
	ErrReservationMismatch     = errors.New("slot reservation does not match the expected slot")
	ErrPriorityQueueFull       = errors.New("priority queue already holds the maximum number of patients")
	ErrWalkInClosed            = errors.New("walk-in window is closed for all sessions")
	ErrWalkInExhausted         = errors.New("no walk-in slots remain in the current session")
	ErrOverflowLimitReached    = errors.New("force-book overflow limit reached for this session")
	ErrInvalidStatusTransition = errors.New("invalid appointment status transition")
)

type Clinic struct {
	ID                uuid.UUID
	Name              string
	TokenDistribution TokenMode
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Appointment struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	DoctorID        uuid.UUID
	DoctorName      string
	PatientName     string
	Date            string // "2006-01-02"
	Time            time.Time
	SlotIndex       int
	SessionIndex    int
	BookedVia       Channel
	Status          Status
	TokenNumber     string
	NumericToken    int
	ClassicToken    *int
	IsPriority      bool
	PrioritySetAt   *time.Time
	InBuffer        bool
	BufferEnteredAt *time.Time
	ForceBooked     bool
	CutOffTime      time.Time
	NoShowTime      time.Time
	ArriveByTime    time.Time
	DelayMins       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ReservationStatus string

const (
	ReservationHeld   ReservationStatus = "held"
	ReservationBooked ReservationStatus = "booked"
)

// SlotReservation is the short-lived intent-to-book record. Rows are never
// deleted: a held row blocks its slot until the hold TTL, a booked row blocks
// it for as long as its appointment actively occupies the slot. Superseding
// stale rows instead of deleting them closes the delete-then-insert race
// window.
type SlotReservation struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	DoctorID      uuid.UUID
	DoctorName    string
	Date          string
	SlotIndex     int
	Status        ReservationStatus
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
