package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/booking"
	"github.com/opdqueue/token-engine/internal/clock"
	"github.com/opdqueue/token-engine/internal/queue"
	redisclient "github.com/opdqueue/token-engine/internal/redis"
)

type Handlers struct {
	svc      *booking.Service
	repo     booking.Repository
	clk      clock.Clock
	validate *validator.Validate
}

func NewHandlers(svc *booking.Service, repo booking.Repository, clk clock.Clock) *Handlers {
	return &Handlers{
		svc:      svc,
		repo:     repo,
		clk:      clk,
		validate: validator.New(),
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", raw, time.Local)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	clinicID, _ := uuid.Parse(req.ClinicID)
	doctorID, _ := uuid.Parse(req.DoctorID)
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	booked := booking.BookingRequest{
		ClinicID:      clinicID,
		DoctorID:      doctorID,
		PatientName:   req.PatientName,
		Date:          date,
		RequestedSlot: req.SlotIndex,
	}
	if req.Time != "" {
		hm, _ := time.Parse("15:04", req.Time)
		at := time.Date(date.Year(), date.Month(), date.Day(), hm.Hour(), hm.Minute(), 0, 0, date.Location())
		booked.RequestedTime = &at
	}

	appt, err := h.svc.BookAdvance(r.Context(), booked)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) previewWalkIn(w http.ResponseWriter, r *http.Request) {
	var req WalkInPreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	doctorID, _ := uuid.Parse(req.DoctorID)
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	doc, err := h.repo.GetDoctorByID(r.Context(), doctorID)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	est, err := h.svc.Allocator().PreviewWalkIn(r.Context(), doc, date, req.Spacing)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	resp := WalkInPreviewResponse{
		PatientsAhead:      est.PatientsAhead,
		SlotIndex:          est.SlotIndex,
		SessionIndex:       est.SessionIndex,
		SlotsExhausted:     est.SlotsExhausted,
		ForceBookAvailable: est.ForceBookAvailable,
	}
	if !est.SlotsExhausted {
		resp.EstimatedTime = &est.EstimatedTime
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) createWalkIn(w http.ResponseWriter, r *http.Request) {
	var req WalkInRequest
	if !h.decode(w, r, &req) {
		return
	}

	clinicID, _ := uuid.Parse(req.ClinicID)
	doctorID, _ := uuid.Parse(req.DoctorID)
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	appt, err := h.svc.BookWalkIn(r.Context(), booking.BookingRequest{
		ClinicID:    clinicID,
		DoctorID:    doctorID,
		PatientName: req.PatientName,
		Date:        date,
	}, req.Force)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.ConfirmArrival(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) skipAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Skip(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Complete(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) rejoinAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.Rejoin(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	existing, err := h.repo.GetAppointmentByID(r.Context(), id)
	if err != nil {
		handleBookingError(w, err)
		return
	}
	date, err := parseDate(existing.Date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stored appointment date is malformed")
		return
	}
	hm, _ := time.Parse("15:04", req.Time)
	at := time.Date(date.Year(), date.Month(), date.Day(), hm.Hour(), hm.Minute(), 0, 0, date.Location())

	appt, err := h.svc.Reschedule(r.Context(), id, at)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) setPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.SetPriority(r.Context(), id, true)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) clearPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.SetPriority(r.Context(), id, false)
	if err != nil {
		handleBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handlers) getQueue(w http.ResponseWriter, r *http.Request) {
	clinicID, doctorID, date, ok := queueParams(w, r)
	if !ok {
		return
	}

	doc, err := h.repo.GetDoctorByID(r.Context(), doctorID)
	if err != nil {
		handleBookingError(w, err)
		return
	}
	clinic, err := h.repo.GetClinicByID(r.Context(), clinicID)
	if err != nil {
		handleBookingError(w, err)
		return
	}
	appts, err := h.repo.ListAppointments(r.Context(), clinicID, doctorID, date.Format("2006-01-02"))
	if err != nil {
		handleBookingError(w, err)
		return
	}

	st := queue.Compute(appts, doc, clinic.TokenDistribution, h.clk.Now())

	resp := QueueResponse{
		Arrived:  toResponses(st.Arrived),
		Pending:  toResponses(st.Pending),
		Buffer:   toResponses(st.Buffer),
		Priority: toResponses(st.Priority),
	}
	if len(st.EstimatedCalls) > 0 {
		resp.EstimatedCalls = make(map[string]time.Time, len(st.EstimatedCalls))
		for id, t := range st.EstimatedCalls {
			resp.EstimatedCalls[id.String()] = t
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) getCapacity(w http.ResponseWriter, r *http.Request) {
	clinicID, doctorID, date, ok := queueParams(w, r)
	if !ok {
		return
	}

	doc, err := h.repo.GetDoctorByID(r.Context(), doctorID)
	if err != nil {
		handleBookingError(w, err)
		return
	}
	appts, err := h.repo.ListAppointments(r.Context(), clinicID, doctorID, date.Format("2006-01-02"))
	if err != nil {
		handleBookingError(w, err)
		return
	}

	day := booking.PlanDay(doc, date, h.clk.Now(), appts)

	resp := CapacityResponse{AvailableForAdvance: day.TotalAvailableForAdvance()}
	for _, sc := range day.Sessions {
		resp.Sessions = append(resp.Sessions, SessionCapacityResponse{
			SessionIndex:        sc.SessionIndex,
			FutureSlots:         sc.FutureSlots,
			FreeFuture:          sc.FreeFuture,
			ReservedForWalkIn:   sc.ReservedForWalkIn,
			AvailableForAdvance: sc.AvailableForAdvance,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) refreshStatuses(w http.ResponseWriter, r *http.Request) {
	clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicID must be a valid UUID")
		return
	}

	if err := h.svc.RefreshStatuses(r.Context(), clinicID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queueParams(w http.ResponseWriter, r *http.Request) (clinicID, doctorID uuid.UUID, date time.Time, ok bool) {
	q := r.URL.Query()

	clinicID, err := uuid.Parse(q.Get("clinic_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return uuid.Nil, uuid.Nil, time.Time{}, false
	}
	doctorID, err = uuid.Parse(q.Get("doctor_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
		return uuid.Nil, uuid.Nil, time.Time{}, false
	}
	date, err = parseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return uuid.Nil, uuid.Nil, time.Time{}, false
	}

	return clinicID, doctorID, date, true
}

func toResponses(appts []booking.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrAdvanceCapacityReached):
		writeError(w, http.StatusConflict, "advance_capacity_reached",
			"no advance slots remain for this doctor on this date, pick another date")
	case errors.Is(err, booking.ErrSlotAlreadyBooked),
		errors.Is(err, booking.ErrSlotOccupied):
		writeError(w, http.StatusConflict, "slot_already_booked",
			"that slot was just taken, pick another time and retry")
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked",
			"slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrWalkInClosed):
		writeError(w, http.StatusConflict, "walk_in_closed", err.Error())
	case errors.Is(err, booking.ErrWalkInExhausted):
		writeError(w, http.StatusConflict, "walk_in_exhausted",
			"no walk-in slots remain; a force-book may be available near closing")
	case errors.Is(err, booking.ErrOverflowLimitReached):
		writeError(w, http.StatusConflict, "overflow_limit_reached", err.Error())
	case errors.Is(err, booking.ErrPriorityQueueFull):
		writeError(w, http.StatusConflict, "priority_queue_full", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrReservationMismatch):
		// should not occur absent a bug; do not leak internals
		writeError(w, http.StatusInternalServerError, "internal_error", "booking failed, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
