package booking

import (
	"testing"

	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/schedule"
)

func activeAt(slotIndex int) Appointment {
	return Appointment{
		ID:        uuid.New(),
		Status:    StatusConfirmed,
		SlotIndex: slotIndex,
	}
}

func TestWalkInReserve(t *testing.T) {
	tests := []struct {
		freeFuture int
		want       int
	}{
		{0, 0},
		{2, 0},  // 15% of a tiny session is under one slot, nothing reserved
		{6, 0},
		{7, 2},  // first point where 15% crosses a whole slot, rounded up
		{12, 2},
		{20, 3},
		{40, 6},
	}
	for _, tc := range tests {
		if got := walkInReserve(tc.freeFuture); got != tc.want {
			t.Errorf("walkInReserve(%d) = %d, want %d", tc.freeFuture, got, tc.want)
		}
	}
}

func TestPlanDaySplitsSession(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "12:00"})

	day := PlanDay(doc, testDay, dayAt(8, 0), nil)
	if len(day.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(day.Sessions))
	}

	sc := day.Sessions[0]
	if sc.FutureSlots != 12 || sc.FreeFuture != 12 {
		t.Errorf("future/free = %d/%d, want 12/12", sc.FutureSlots, sc.FreeFuture)
	}
	if sc.ReservedForWalkIn != 2 {
		t.Errorf("reserved = %d, want 2", sc.ReservedForWalkIn)
	}
	if sc.AvailableForAdvance != 10 {
		t.Errorf("advance = %d, want 10", sc.AvailableForAdvance)
	}
}

func TestReserveShrinksAsDayProgresses(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "12:00"})

	prev := -1
	for _, hm := range []struct{ h, m int }{{8, 0}, {9, 30}, {10, 30}, {11, 15}, {11, 50}} {
		day := PlanDay(doc, testDay, dayAt(hm.h, hm.m), nil)
		got := day.Sessions[0].ReservedForWalkIn
		if prev >= 0 && got > prev {
			t.Errorf("reserve grew from %d to %d at %02d:%02d", prev, got, hm.h, hm.m)
		}
		prev = got
	}

	// by late morning 15% of the remaining slots is under one whole slot
	day := PlanDay(doc, testDay, dayAt(11, 0), nil)
	if got := day.Sessions[0].ReservedForWalkIn; got != 0 {
		t.Errorf("late-day reserve = %d, want 0", got)
	}
}

func TestTinySessionStaysFullyAdvanceBookable(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "09:30"})

	day := PlanDay(doc, testDay, dayAt(8, 0), nil)
	sc := day.Sessions[0]
	if sc.FutureSlots != 2 || sc.ReservedForWalkIn != 0 || sc.AvailableForAdvance != 2 {
		t.Errorf("future=%d reserved=%d advance=%d, want 2/0/2",
			sc.FutureSlots, sc.ReservedForWalkIn, sc.AvailableForAdvance)
	}
}

func TestReserveTakesTrailingSlots(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "12:00"})

	day := PlanDay(doc, testDay, dayAt(8, 0), nil)

	reserved := day.WalkInSlots(0)
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reserved slots, got %d", len(reserved))
	}
	if !reserved[0].Time.Equal(dayAt(11, 30)) || !reserved[1].Time.Equal(dayAt(11, 45)) {
		t.Errorf("reserved slots at %v, %v; want the last two of the session",
			reserved[0].Time, reserved[1].Time)
	}

	if !day.ReservedForWalkIn(11) {
		t.Error("last slot should sit in the reserve")
	}
	if day.ReservedForWalkIn(0) {
		t.Error("first slot should not sit in the reserve")
	}
}

func TestOccupiedSlotsShrinkTheReserveBase(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "12:00"})

	appts := make([]Appointment, 0, 6)
	for i := 0; i < 6; i++ {
		appts = append(appts, activeAt(i))
	}

	day := PlanDay(doc, testDay, dayAt(8, 0), appts)
	sc := day.Sessions[0]
	if sc.FutureSlots != 12 {
		t.Errorf("future = %d, want 12 (occupied slots still count)", sc.FutureSlots)
	}
	if sc.FreeFuture != 6 {
		t.Errorf("free = %d, want 6", sc.FreeFuture)
	}
	if sc.ReservedForWalkIn != 0 {
		t.Errorf("reserved = %d, want 0 once 15%% of free drops under one slot", sc.ReservedForWalkIn)
	}
}

func TestCancelledAppointmentsFreeTheirSlots(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15, schedule.SessionWindow{From: "09:00", To: "12:00"})

	cancelled := activeAt(3)
	cancelled.Status = StatusCancelled

	day := PlanDay(doc, testDay, dayAt(8, 0), []Appointment{cancelled})
	if got := day.Sessions[0].FreeFuture; got != 12 {
		t.Errorf("free = %d, want 12; terminal statuses must not occupy slots", got)
	}
}

func TestTotalAvailableSumsSessions(t *testing.T) {
	doc := newTestDoctor(uuid.New(), 15,
		schedule.SessionWindow{From: "09:00", To: "12:00"},
		schedule.SessionWindow{From: "17:00", To: "20:00"},
	)

	day := PlanDay(doc, testDay, dayAt(8, 0), nil)
	if got := day.TotalAvailableForAdvance(); got != 20 {
		t.Errorf("total advance = %d, want 20 (10 per 12-slot session)", got)
	}
}
