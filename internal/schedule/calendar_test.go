package schedule

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

// monday is a fixed calendar date so weekly windows resolve deterministically.
var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func testDoctor(consultingMins int, windows ...SessionWindow) *Doctor {
	return &Doctor{
		ID:                    uuid.New(),
		ClinicID:              uuid.New(),
		Name:                  "Dr. Test",
		AverageConsultingMins: consultingMins,
		ConsultationStatus:    ConsultationOut,
		Availability: Availability{
			Weekly: map[string][]SessionWindow{"monday": windows},
		},
	}
}

func TestSessionsForResolvesWindows(t *testing.T) {
	doc := testDoctor(15,
		SessionWindow{From: "09:00", To: "13:00"},
		SessionWindow{From: "17:00", To: "20:00"},
	)

	sessions := SessionsFor(doc, monday)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if !sessions[0].From.Equal(at(9, 0)) || !sessions[0].To.Equal(at(13, 0)) {
		t.Errorf("session 0 = [%v, %v]", sessions[0].From, sessions[0].To)
	}
	if !sessions[1].From.Equal(at(17, 0)) || !sessions[1].To.Equal(at(20, 0)) {
		t.Errorf("session 1 = [%v, %v]", sessions[1].From, sessions[1].To)
	}
	if sessions[0].Index != 0 || sessions[1].Index != 1 {
		t.Errorf("session indices = %d, %d", sessions[0].Index, sessions[1].Index)
	}
}

func TestSessionsForSkipsMalformedWindows(t *testing.T) {
	doc := testDoctor(15,
		SessionWindow{From: "09:00", To: "13:00"},
		SessionWindow{From: "25:99", To: "26:00"},
		SessionWindow{From: "18:00", To: "17:00"}, // end before start
	)

	sessions := SessionsFor(doc, monday)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Index != 0 {
		t.Errorf("surviving session index = %d, want 0", sessions[0].Index)
	}
}

func TestSessionExtension(t *testing.T) {
	tests := []struct {
		name    string
		ext     SessionExtension
		wantEnd time.Time
	}{
		{
			name:    "valid extension moves the end",
			ext:     SessionExtension{SessionIndex: 0, NewEndTime: "13:30", TotalExtendedBy: 30},
			wantEnd: at(13, 30),
		},
		{
			name:    "malformed time falls back to configured end",
			ext:     SessionExtension{SessionIndex: 0, NewEndTime: "garbage"},
			wantEnd: at(13, 0),
		},
		{
			name:    "earlier end is not a shrink, configured end wins",
			ext:     SessionExtension{SessionIndex: 0, NewEndTime: "12:00"},
			wantEnd: at(13, 0),
		},
		{
			name:    "extension for another session is ignored",
			ext:     SessionExtension{SessionIndex: 1, NewEndTime: "14:00"},
			wantEnd: at(13, 0),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := testDoctor(15, SessionWindow{From: "09:00", To: "13:00"})
			doc.Availability.Extensions = map[string][]SessionExtension{
				DateKey(monday): {tc.ext},
			}

			sessions := SessionsFor(doc, monday)
			if len(sessions) != 1 {
				t.Fatalf("expected 1 session, got %d", len(sessions))
			}
			if !sessions[0].To.Equal(tc.wantEnd) {
				t.Errorf("session end = %v, want %v", sessions[0].To, tc.wantEnd)
			}
		})
	}
}

func TestBreaksAttachToTheirSession(t *testing.T) {
	doc := testDoctor(15,
		SessionWindow{From: "09:00", To: "13:00"},
		SessionWindow{From: "17:00", To: "20:00"},
	)
	doc.Availability.Breaks = map[string][]Interval{
		DateKey(monday): {
			{Start: at(11, 0), End: at(11, 30)},
			{Start: at(18, 0), End: at(18, 15)},
		},
	}

	sessions := SessionsFor(doc, monday)
	if len(sessions[0].Breaks) != 1 || len(sessions[1].Breaks) != 1 {
		t.Fatalf("break counts = %d, %d; want 1, 1",
			len(sessions[0].Breaks), len(sessions[1].Breaks))
	}
	if !sessions[0].Breaks[0].Start.Equal(at(11, 0)) {
		t.Errorf("session 0 break start = %v", sessions[0].Breaks[0].Start)
	}
	if !sessions[1].Breaks[0].Start.Equal(at(18, 0)) {
		t.Errorf("session 1 break start = %v", sessions[1].Breaks[0].Start)
	}
}

func TestBreakOffset(t *testing.T) {
	s := Session{
		From: at(9, 0),
		To:   at(13, 0),
		Breaks: []Interval{
			{Start: at(10, 0), End: at(10, 30)},
			{Start: at(12, 0), End: at(12, 15)},
		},
	}

	tests := []struct {
		at   time.Time
		want time.Duration
	}{
		{at(9, 30), 0},
		{at(10, 15), 15 * time.Minute}, // mid-break, only elapsed part counts
		{at(11, 0), 30 * time.Minute},
		{at(13, 0), 45 * time.Minute},
	}
	for _, tc := range tests {
		if got := s.BreakOffset(tc.at); got != tc.want {
			t.Errorf("BreakOffset(%v) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestCurrentActiveSession(t *testing.T) {
	doc := testDoctor(15,
		SessionWindow{From: "09:00", To: "13:00"},
		SessionWindow{From: "17:00", To: "20:00"},
	)

	open := 30 * time.Minute
	closeBefore := 15 * time.Minute

	tests := []struct {
		name      string
		now       time.Time
		wantIndex int
		wantOK    bool
	}{
		{"before any window", at(8, 0), 0, false},
		{"window opens 30m before start", at(8, 30), 0, true},
		{"mid morning session", at(10, 0), 0, true},
		{"closes 15m before end", at(12, 45), 0, false},
		{"gap between sessions", at(14, 0), 0, false},
		{"evening session", at(18, 0), 1, true},
		{"after last window", at(19, 50), 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, ok := CurrentActiveSession(doc, monday, tc.now, open, closeBefore)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && s.Index != tc.wantIndex {
				t.Errorf("session index = %d, want %d", s.Index, tc.wantIndex)
			}
		})
	}
}
