package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/opdqueue/token-engine/internal/schedule"
)

// WalkInEstimate previews what a walk-in would get without committing
// anything. SlotsExhausted marks the near-closing state: the window is still
// open but regular slots are gone; ForceBookAvailable then says whether an
// explicit force-book can still be offered.
type WalkInEstimate struct {
	EstimatedTime      time.Time
	PatientsAhead      int
	SlotIndex          int
	SessionIndex       int
	SlotsExhausted     bool
	ForceBookAvailable bool
}

// PreviewWalkIn computes the estimated call time and queue position for a
// walk-in arriving now, shifted by the session's accumulated breaks. spacing
// skips that many free slots before the estimate (a spacing of 0 takes the
// first available slot).
func (a *Allocator) PreviewWalkIn(ctx context.Context, doc *schedule.Doctor, date time.Time, spacing int) (*WalkInEstimate, error) {
	now := a.clk.Now()
	dateKey := schedule.DateKey(date)

	session, ok := schedule.CurrentActiveSession(doc, date, now, a.opts.WalkInOpenBefore, a.opts.WalkInCloseBefore)
	if !ok {
		return nil, ErrWalkInClosed
	}

	appts, err := a.repo.ListAppointments(ctx, doc.ClinicID, doc.ID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	slot, exhausted := pickWalkInSlot(doc, date, now, session, appts, spacing)
	if exhausted {
		overflow := 0
		for _, appt := range appts {
			if appt.ForceBooked && appt.SessionIndex == session.Index && appt.Status.Active() {
				overflow++
			}
		}
		return &WalkInEstimate{
			SessionIndex:       session.Index,
			SlotsExhausted:     true,
			ForceBookAvailable: overflow < a.opts.MaxOverflowSlots,
		}, nil
	}

	// confirmed patients are present and ahead regardless of their slot time;
	// pending ones only count while their slot is still upcoming
	ahead := 0
	for _, appt := range appts {
		if appt.SlotIndex >= slot.GlobalIndex {
			continue
		}
		if appt.Status == StatusConfirmed || (appt.Status == StatusPending && !appt.Time.Before(now)) {
			ahead++
		}
	}

	return &WalkInEstimate{
		EstimatedTime: slot.Time.Add(session.BreakOffset(slot.Time)),
		PatientsAhead: ahead,
		SlotIndex:     slot.GlobalIndex,
		SessionIndex:  slot.SessionIndex,
	}, nil
}
