package booking

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Comparator is the queue-ordering strategy, selected once per clinic from
// its token-distribution mode rather than branched at every call site.
type Comparator interface {
	Less(a, b *Appointment) bool
}

// ComparatorFor returns the ordering strategy for a clinic mode.
func ComparatorFor(mode TokenMode) Comparator {
	if mode == ModeClassic {
		return classicComparator{}
	}
	return advancedComparator{}
}

// precedence shared by both strategies: priority patients first (earliest
// promotion first), then buffer members (earliest entry first). Returns
// (less, decided).
func priorityBufferLess(a, b *Appointment) (bool, bool) {
	if a.IsPriority != b.IsPriority {
		return a.IsPriority, true
	}
	if a.IsPriority && b.IsPriority {
		if l, ok := timePtrLess(a.PrioritySetAt, b.PrioritySetAt); ok {
			return l, true
		}
	}
	if a.InBuffer != b.InBuffer {
		return a.InBuffer, true
	}
	if a.InBuffer && b.InBuffer {
		if l, ok := timePtrLess(a.BufferEnteredAt, b.BufferEnteredAt); ok {
			return l, true
		}
	}
	return false, false
}

func timePtrLess(a, b *time.Time) (less, decided bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case a.Equal(*b):
		return false, false
	default:
		return a.Before(*b), true
	}
}

// advancedComparator orders by scheduled time with the numeric token as the
// tie-break.
type advancedComparator struct{}

func (advancedComparator) Less(a, b *Appointment) bool {
	if l, ok := priorityBufferLess(a, b); ok {
		return l
	}
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.NumericToken < b.NumericToken
}

// classicComparator orders by classic token number, falling back to the
// scheduled time for appointments that have not been assigned one yet.
type classicComparator struct{}

func (classicComparator) Less(a, b *Appointment) bool {
	if l, ok := priorityBufferLess(a, b); ok {
		return l
	}
	switch {
	case a.ClassicToken != nil && b.ClassicToken != nil:
		if *a.ClassicToken != *b.ClassicToken {
			return *a.ClassicToken < *b.ClassicToken
		}
	case a.ClassicToken != nil:
		return true
	case b.ClassicToken != nil:
		return false
	}
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.NumericToken < b.NumericToken
}

// SortAppointments orders appts in place by the comparator.
func SortAppointments(appts []Appointment, cmp Comparator) {
	sort.SliceStable(appts, func(i, j int) bool {
		return cmp.Less(&appts[i], &appts[j])
	})
}

// PlanBufferRefill returns the appointments to promote so the buffer holds
// `size` confirmed, non-priority patients again. It always promotes the next
// entries by the clinic's comparator, never arbitrary ones. Callers gate on
// the doctor being in consultation.
func PlanBufferRefill(appts []Appointment, mode TokenMode, size int) []uuid.UUID {
	inBuffer := 0
	candidates := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status != StatusConfirmed {
			continue
		}
		if a.InBuffer {
			inBuffer++
			continue
		}
		if a.IsPriority {
			continue
		}
		candidates = append(candidates, a)
	}

	need := size - inBuffer
	if need <= 0 || len(candidates) == 0 {
		return nil
	}

	SortAppointments(candidates, ComparatorFor(mode))

	if need > len(candidates) {
		need = len(candidates)
	}
	promoted := make([]uuid.UUID, 0, need)
	for _, a := range candidates[:need] {
		promoted = append(promoted, a.ID)
	}
	return promoted
}
