package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/booking"
)

type CreateAppointmentRequest struct {
	ClinicID    string `json:"clinic_id" validate:"required,uuid4"`
	DoctorID    string `json:"doctor_id" validate:"required,uuid4"`
	PatientName string `json:"patient_name" validate:"required,max=120"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Time        string `json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	SlotIndex   *int   `json:"slot_index,omitempty" validate:"omitempty,gte=0"`
}

type WalkInRequest struct {
	ClinicID    string `json:"clinic_id" validate:"required,uuid4"`
	DoctorID    string `json:"doctor_id" validate:"required,uuid4"`
	PatientName string `json:"patient_name" validate:"required,max=120"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Force       bool   `json:"force,omitempty"`
}

type WalkInPreviewRequest struct {
	ClinicID string `json:"clinic_id" validate:"required,uuid4"`
	DoctorID string `json:"doctor_id" validate:"required,uuid4"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Spacing  int    `json:"spacing,omitempty" validate:"gte=0"`
}

type RescheduleRequest struct {
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	ClinicID     uuid.UUID `json:"clinic_id"`
	DoctorID     uuid.UUID `json:"doctor_id"`
	DoctorName   string    `json:"doctor_name"`
	PatientName  string    `json:"patient_name"`
	Date         string    `json:"date"`
	Time         time.Time `json:"time"`
	SlotIndex    int       `json:"slot_index"`
	SessionIndex int       `json:"session_index"`
	BookedVia    string    `json:"booked_via"`
	Status       string    `json:"status"`
	TokenNumber  string    `json:"token_number"`
	NumericToken int       `json:"numeric_token"`
	ClassicToken *string   `json:"classic_token,omitempty"`
	IsPriority   bool      `json:"is_priority"`
	InBuffer     bool      `json:"in_buffer"`
	ForceBooked  bool      `json:"force_booked,omitempty"`
	ArriveByTime time.Time `json:"arrive_by_time"`
	CutOffTime   time.Time `json:"cut_off_time"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:           a.ID,
		ClinicID:     a.ClinicID,
		DoctorID:     a.DoctorID,
		DoctorName:   a.DoctorName,
		PatientName:  a.PatientName,
		Date:         a.Date,
		Time:         a.Time,
		SlotIndex:    a.SlotIndex,
		SessionIndex: a.SessionIndex,
		BookedVia:    string(a.BookedVia),
		Status:       string(a.Status),
		TokenNumber:  a.TokenNumber,
		NumericToken: a.NumericToken,
		IsPriority:   a.IsPriority,
		InBuffer:     a.InBuffer,
		ForceBooked:  a.ForceBooked,
		ArriveByTime: a.ArriveByTime,
		CutOffTime:   a.CutOffTime,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if a.ClassicToken != nil {
		formatted := booking.FormatClassicToken(*a.ClassicToken)
		resp.ClassicToken = &formatted
	}
	return resp
}

type WalkInPreviewResponse struct {
	EstimatedTime      *time.Time `json:"estimated_time,omitempty"`
	PatientsAhead      int        `json:"patients_ahead"`
	SlotIndex          int        `json:"slot_index"`
	SessionIndex       int        `json:"session_index"`
	SlotsExhausted     bool       `json:"slots_exhausted"`
	ForceBookAvailable bool       `json:"force_book_available"`
}

type SessionCapacityResponse struct {
	SessionIndex        int `json:"session_index"`
	FutureSlots         int `json:"future_slots"`
	FreeFuture          int `json:"free_future"`
	ReservedForWalkIn   int `json:"reserved_for_walk_in"`
	AvailableForAdvance int `json:"available_for_advance"`
}

type CapacityResponse struct {
	Sessions            []SessionCapacityResponse `json:"sessions"`
	AvailableForAdvance int                       `json:"available_for_advance"`
}

type QueueResponse struct {
	Arrived        []AppointmentResponse `json:"arrived"`
	Pending        []AppointmentResponse `json:"pending"`
	Buffer         []AppointmentResponse `json:"buffer"`
	Priority       []AppointmentResponse `json:"priority"`
	EstimatedCalls map[string]time.Time  `json:"estimated_calls,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
