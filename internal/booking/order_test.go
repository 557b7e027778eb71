package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func confirmedAt(slotIndex int, at time.Time) Appointment {
	return Appointment{
		ID:           uuid.New(),
		Status:       StatusConfirmed,
		SlotIndex:    slotIndex,
		NumericToken: slotIndex + 1,
		Time:         at,
	}
}

func namesOf(appts []Appointment) []string {
	names := make([]string, 0, len(appts))
	for _, a := range appts {
		names = append(names, a.PatientName)
	}
	return names
}

func TestAdvancedOrderingByTimeThenToken(t *testing.T) {
	a := confirmedAt(2, dayAt(9, 30))
	a.PatientName = "later"
	b := confirmedAt(0, dayAt(9, 0))
	b.PatientName = "earlier"
	c := confirmedAt(1, dayAt(9, 0)) // same time, higher token than b
	c.PatientName = "same time higher token"
	c.NumericToken = 5

	appts := []Appointment{a, c, b}
	SortAppointments(appts, ComparatorFor(ModeAdvanced))

	want := []string{"earlier", "same time higher token", "later"}
	got := namesOf(appts)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestClassicOrderingByArrivalNumber(t *testing.T) {
	tok := func(n int) *int { return &n }

	first := confirmedAt(3, dayAt(9, 45))
	first.PatientName = "arrived first"
	first.ClassicToken = tok(1)

	second := confirmedAt(0, dayAt(9, 0)) // earlier slot but arrived later
	second.PatientName = "arrived second"
	second.ClassicToken = tok(2)

	unnumbered := confirmedAt(1, dayAt(9, 15))
	unnumbered.PatientName = "not yet numbered"

	appts := []Appointment{unnumbered, second, first}
	SortAppointments(appts, ComparatorFor(ModeClassic))

	want := []string{"arrived first", "arrived second", "not yet numbered"}
	got := namesOf(appts)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestPriorityAndBufferOutrankEverything(t *testing.T) {
	prioAt := dayAt(9, 50)
	bufAt := dayAt(9, 40)

	regular := confirmedAt(0, dayAt(9, 0))
	regular.PatientName = "regular"

	buffered := confirmedAt(5, dayAt(10, 15))
	buffered.PatientName = "buffered"
	buffered.InBuffer = true
	buffered.BufferEnteredAt = &bufAt

	prioritized := confirmedAt(9, dayAt(11, 15))
	prioritized.PatientName = "priority"
	prioritized.IsPriority = true
	prioritized.PrioritySetAt = &prioAt

	appts := []Appointment{regular, buffered, prioritized}
	SortAppointments(appts, ComparatorFor(ModeAdvanced))

	want := []string{"priority", "buffered", "regular"}
	got := namesOf(appts)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestPlanBufferRefillPromotesNextInOrder(t *testing.T) {
	a := confirmedAt(0, dayAt(9, 0))
	b := confirmedAt(1, dayAt(9, 15))
	c := confirmedAt(2, dayAt(9, 30))

	promoted := PlanBufferRefill([]Appointment{c, a, b}, ModeAdvanced, 2)
	if len(promoted) != 2 {
		t.Fatalf("promoted %d, want 2", len(promoted))
	}
	if promoted[0] != a.ID || promoted[1] != b.ID {
		t.Error("refill must promote the next patients by queue order, not arbitrary ones")
	}
}

func TestPlanBufferRefillRespectsExistingMembers(t *testing.T) {
	now := dayAt(9, 0)

	inBuf := confirmedAt(0, dayAt(9, 0))
	inBuf.InBuffer = true
	inBuf.BufferEnteredAt = &now

	next := confirmedAt(1, dayAt(9, 15))

	promoted := PlanBufferRefill([]Appointment{inBuf, next}, ModeAdvanced, 2)
	if len(promoted) != 1 || promoted[0] != next.ID {
		t.Fatalf("promoted = %v, want only the one missing member", promoted)
	}
}

func TestPlanBufferRefillSkipsIneligible(t *testing.T) {
	pending := confirmedAt(0, dayAt(9, 0))
	pending.Status = StatusPending

	priority := confirmedAt(1, dayAt(9, 15))
	priority.IsPriority = true

	eligible := confirmedAt(2, dayAt(9, 30))

	promoted := PlanBufferRefill([]Appointment{pending, priority, eligible}, ModeAdvanced, 2)
	if len(promoted) != 1 || promoted[0] != eligible.ID {
		t.Fatalf("promoted = %v, want only the confirmed non-priority patient", promoted)
	}
}

func TestPlanBufferRefillNoopWhenFull(t *testing.T) {
	now := dayAt(9, 0)
	appts := make([]Appointment, 0, 3)
	for i := 0; i < 2; i++ {
		a := confirmedAt(i, dayAt(9, i*15))
		a.InBuffer = true
		a.BufferEnteredAt = &now
		appts = append(appts, a)
	}
	appts = append(appts, confirmedAt(2, dayAt(9, 30)))

	if promoted := PlanBufferRefill(appts, ModeAdvanced, 2); promoted != nil {
		t.Fatalf("promoted = %v, want none when the buffer is full", promoted)
	}
}
