// Package queue derives the live queue display from a doctor's appointments
// for one date. The state is a pure read-time projection: nothing here is
// persisted or concurrently written, it is recomputed on every relevant
// appointment-set change.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/booking"
	"github.com/opdqueue/token-engine/internal/schedule"
)

// State is the ordered queue view for one doctor-date.
type State struct {
	Arrived  []booking.Appointment
	Pending  []booking.Appointment
	Buffer   []booking.Appointment
	Priority []booking.Appointment

	// EstimatedCalls is the classic-mode display estimate per arrived
	// appointment.
	EstimatedCalls map[uuid.UUID]time.Time
}

// Compute orders the appointment set with the clinic's comparator strategy
// and carves out the buffer (next up, at most 2) and priority (at most 3)
// subsets.
func Compute(appts []booking.Appointment, doc *schedule.Doctor, mode booking.TokenMode, now time.Time) *State {
	cmp := booking.ComparatorFor(mode)

	st := &State{}
	for _, a := range appts {
		switch a.Status {
		case booking.StatusConfirmed:
			st.Arrived = append(st.Arrived, a)
		case booking.StatusPending:
			st.Pending = append(st.Pending, a)
		}
	}

	booking.SortAppointments(st.Arrived, cmp)
	booking.SortAppointments(st.Pending, cmp)

	for _, a := range st.Arrived {
		if a.InBuffer {
			st.Buffer = append(st.Buffer, a)
		}
		if a.IsPriority {
			st.Priority = append(st.Priority, a)
		}
	}

	if mode == booking.ModeClassic {
		st.EstimatedCalls = estimateCalls(st.Arrived, doc, now)
	}

	return st
}

// estimateCalls walks the arrived queue in comparator order, accumulating the
// doctor's average consulting time per preceding patient from now. When the
// doctor is already in consultation the first patient is the one being seen,
// so it gets "now" and does not push the others back.
func estimateCalls(arrived []booking.Appointment, doc *schedule.Doctor, now time.Time) map[uuid.UUID]time.Time {
	estimates := make(map[uuid.UUID]time.Time, len(arrived))
	width := doc.SlotWidth()

	var offset time.Duration
	for i, a := range arrived {
		if i == 0 && doc.ConsultationStatus == schedule.ConsultationIn {
			estimates[a.ID] = now
			continue
		}
		estimates[a.ID] = now.Add(offset)
		offset += width
	}
	return estimates
}
