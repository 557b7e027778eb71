package booking

import (
	"time"

	"github.com/opdqueue/token-engine/internal/schedule"
)

// SessionCapacity is the walk-in/advance split for one session at one instant.
// FutureSlots counts every remaining (wall-clock >= now) bookable slot,
// occupied or not; FreeFuture only the unoccupied ones. The walk-in reserve is
// carved from the trailing FreeFuture slots, so both the reserve and the
// advance headroom shrink as the day progresses. None of this is ever cached.
type SessionCapacity struct {
	SessionIndex        int
	FutureSlots         int
	FreeFuture          int
	ReservedForWalkIn   int
	AvailableForAdvance int

	walkInSlots map[int]struct{} // global indices reserved for walk-ins
	freeSlots   []schedule.Slot  // free future slots, in time order
}

type DayCapacity struct {
	Sessions []SessionCapacity
}

// walkInReserve implements the 15% rounded-up rule, with the reserve dropping
// to zero when 15% of the free slots is under one whole slot: tiny sessions
// stay fully advance-bookable instead of losing a big share to the reserve.
func walkInReserve(freeFuture int) int {
	if freeFuture*15 < 100 {
		return 0
	}
	return (freeFuture*15 + 99) / 100
}

// PlanDay recomputes the per-session capacity split for the doctor-date at
// time now, given the day's appointments. Pure derived view, never stored.
func PlanDay(doc *schedule.Doctor, date time.Time, now time.Time, appts []Appointment) DayCapacity {
	width := doc.SlotWidth()
	sessions := schedule.SessionsFor(doc, date)
	slots := schedule.SlotsFor(doc, date)

	occupied := make(map[int]struct{})
	for _, a := range appts {
		if a.Status.Active() {
			occupied[a.SlotIndex] = struct{}{}
		}
	}

	day := DayCapacity{Sessions: make([]SessionCapacity, 0, len(sessions))}
	for _, s := range sessions {
		sc := SessionCapacity{
			SessionIndex: s.Index,
			walkInSlots:  make(map[int]struct{}),
		}

		for _, slot := range slots {
			if slot.SessionIndex != s.Index || slot.OnLeave {
				continue
			}
			if slot.Time.Before(now) {
				continue
			}
			// the break-adjusted slot end must still fit the session
			if slot.Time.Add(width).Add(s.BreakOffset(slot.Time)).After(s.To.Add(s.BreakOffset(s.To))) {
				continue
			}
			sc.FutureSlots++
			if _, taken := occupied[slot.GlobalIndex]; !taken {
				sc.FreeFuture++
				sc.freeSlots = append(sc.freeSlots, slot)
			}
		}

		sc.ReservedForWalkIn = walkInReserve(sc.FreeFuture)
		sc.AvailableForAdvance = sc.FutureSlots - sc.ReservedForWalkIn
		for i := len(sc.freeSlots) - sc.ReservedForWalkIn; i < len(sc.freeSlots); i++ {
			sc.walkInSlots[sc.freeSlots[i].GlobalIndex] = struct{}{}
		}

		day.Sessions = append(day.Sessions, sc)
	}

	return day
}

// ReservedForWalkIn reports whether the slot sits in a session's trailing
// walk-in reserve right now.
func (d DayCapacity) ReservedForWalkIn(globalIndex int) bool {
	for _, sc := range d.Sessions {
		if _, ok := sc.walkInSlots[globalIndex]; ok {
			return true
		}
	}
	return false
}

// TotalAvailableForAdvance sums the advance headroom across sessions; the
// doctor-level capacity gate compares the active advance count against it.
func (d DayCapacity) TotalAvailableForAdvance() int {
	total := 0
	for _, sc := range d.Sessions {
		total += sc.AvailableForAdvance
	}
	return total
}

// WalkInSlots returns the reserved free slots of one session, in time order.
func (d DayCapacity) WalkInSlots(sessionIndex int) []schedule.Slot {
	for _, sc := range d.Sessions {
		if sc.SessionIndex != sessionIndex {
			continue
		}
		out := make([]schedule.Slot, 0, sc.ReservedForWalkIn)
		for _, slot := range sc.freeSlots {
			if _, ok := sc.walkInSlots[slot.GlobalIndex]; ok {
				out = append(out, slot)
			}
		}
		return out
	}
	return nil
}

// FreeSlots returns a session's free future slots, in time order.
func (d DayCapacity) FreeSlots(sessionIndex int) []schedule.Slot {
	for _, sc := range d.Sessions {
		if sc.SessionIndex == sessionIndex {
			return sc.freeSlots
		}
	}
	return nil
}
