package schedule

import (
	"time"
)

// Session is one resolved consultation window for a concrete date. To already
// includes any valid same-day extension. Breaks holds only the break periods
// that fall inside this session; a break in one session never affects another.
type Session struct {
	Index  int
	From   time.Time
	To     time.Time
	Breaks []Interval
}

// SessionsFor resolves the doctor's ordered sessions for a calendar date,
// applying same-day session-end extensions and attaching per-session breaks.
func SessionsFor(doc *Doctor, date time.Time) []Session {
	windows := doc.Availability.Weekly[weekdayKey(date)]
	if len(windows) == 0 {
		return nil
	}

	key := DateKey(date)
	exts := doc.Availability.Extensions[key]
	breaks := doc.Availability.Breaks[key]

	sessions := make([]Session, 0, len(windows))
	for i, w := range windows {
		from, okFrom := clockOnDate(date, w.From)
		to, okTo := clockOnDate(date, w.To)
		if !okFrom || !okTo || !to.After(from) {
			// malformed window, skip it
			continue
		}

		to = applyExtension(date, to, i, exts)

		s := Session{Index: len(sessions), From: from, To: to}
		for _, b := range breaks {
			if b.Start.Before(to) && b.End.After(from) {
				s.Breaks = append(s.Breaks, b)
			}
		}
		sessions = append(sessions, s)
	}

	return sessions
}

// applyExtension returns the effective session end. Malformed or non-extending
// entries fall back silently to the configured end.
func applyExtension(date time.Time, to time.Time, sessionIndex int, exts []SessionExtension) time.Time {
	for _, ext := range exts {
		if ext.SessionIndex != sessionIndex {
			continue
		}
		newEnd, ok := clockOnDate(date, ext.NewEndTime)
		if !ok {
			continue
		}
		if newEnd.After(to) {
			return newEnd
		}
	}
	return to
}

// BreakOffset is the total break time inside the session up to instant t.
// Walk-in estimates and capacity end checks shift by this amount.
func (s Session) BreakOffset(t time.Time) time.Duration {
	var total time.Duration
	for _, b := range s.Breaks {
		if !b.Start.Before(t) {
			continue
		}
		end := b.End
		if end.After(t) {
			end = t
		}
		total += end.Sub(b.Start)
	}
	return total
}

// clockOnDate anchors a "15:04" wall-clock string on the given date.
func clockOnDate(date time.Time, hm string) (time.Time, bool) {
	parsed, err := time.Parse("15:04", hm)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, date.Location()), true
}
