package schedule

import (
	"time"
)

// Slot is one bookable unit of a doctor's day. GlobalIndex is contiguous and
// strictly increasing across sessions; a leave-blocked slot keeps its index
// (OnLeave=true) so indices stay stable for slots booked before the leave was
// declared.
type Slot struct {
	GlobalIndex  int
	SessionIndex int
	Time         time.Time
	OnLeave      bool
}

// SlotsFor walks every session from its start to its effective end in steps
// of the doctor's average consulting time and returns the day's full slot
// sequence, leave-blocked slots included.
func SlotsFor(doc *Doctor, date time.Time) []Slot {
	width := doc.SlotWidth()
	sessions := SessionsFor(doc, date)

	var slots []Slot
	idx := 0
	for _, s := range sessions {
		for t := s.From; !t.Add(width).After(s.To); t = t.Add(width) {
			slots = append(slots, Slot{
				GlobalIndex:  idx,
				SessionIndex: s.Index,
				Time:         t,
				OnLeave:      onLeave(doc, t),
			})
			idx++
		}
	}
	return slots
}

func onLeave(doc *Doctor, t time.Time) bool {
	for _, iv := range doc.Availability.Leaves {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

// IndexFor maps a wall-clock instant to the slot containing it.
// Leave-blocked slots are not addressable.
func IndexFor(doc *Doctor, date time.Time, t time.Time) (globalIndex, sessionIndex int, ok bool) {
	width := doc.SlotWidth()
	for _, s := range SlotsFor(doc, date) {
		if s.OnLeave {
			continue
		}
		if !t.Before(s.Time) && t.Before(s.Time.Add(width)) {
			return s.GlobalIndex, s.SessionIndex, true
		}
	}
	return 0, 0, false
}

// TimeFor is the inverse of IndexFor for exact slot boundaries.
func TimeFor(doc *Doctor, date time.Time, globalIndex int) (time.Time, bool) {
	for _, s := range SlotsFor(doc, date) {
		if s.GlobalIndex == globalIndex {
			return s.Time, true
		}
	}
	return time.Time{}, false
}

// CurrentActiveSession returns the session whose walk-in window contains now:
// the window opens openBefore ahead of the session start and closes
// closeBefore ahead of the break-adjusted effective end.
func CurrentActiveSession(doc *Doctor, date time.Time, now time.Time, openBefore, closeBefore time.Duration) (Session, bool) {
	for _, s := range SessionsFor(doc, date) {
		opens := s.From.Add(-openBefore)
		closes := s.To.Add(s.BreakOffset(s.To)).Add(-closeBefore)
		if !now.Before(opens) && now.Before(closes) {
			return s, true
		}
	}
	return Session{}, false
}
