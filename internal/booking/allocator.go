package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opdqueue/token-engine/internal/clock"
	redisclient "github.com/opdqueue/token-engine/internal/redis"
	"github.com/opdqueue/token-engine/internal/schedule"
)

type AllocatorOptions struct {
	WalkInOpenBefore  time.Duration // walk-in window opens this long before session start
	WalkInCloseBefore time.Duration // and closes this long before the effective end
	MaxOverflowSlots  int           // force-book depth per session
}

func DefaultAllocatorOptions() AllocatorOptions {
	return AllocatorOptions{
		WalkInOpenBefore:  30 * time.Minute,
		WalkInCloseBefore: 15 * time.Minute,
		MaxOverflowSlots:  3,
	}
}

// Allocator finds the first legal slot for a booking request and records the
// intent to book as a held ledger entry. The expensive slot scan happens here,
// outside any transaction; the cheap atomic guard runs later in
// Repository.CommitAppointment. Splitting the two is what keeps the protocol
// race-free without serializing the whole day's booking stream.
type Allocator struct {
	repo   Repository
	locker redisclient.Locker
	clk    clock.Clock
	opts   AllocatorOptions
}

func NewAllocator(repo Repository, locker redisclient.Locker, clk clock.Clock, opts AllocatorOptions) *Allocator {
	return &Allocator{repo: repo, locker: locker, clk: clk, opts: opts}
}

// Reservation is the result of a successful allocation: a held ledger entry
// plus the display token for the chosen slot.
type Reservation struct {
	ReservationID uuid.UUID
	TokenNumber   string
	NumericToken  int
	SlotIndex     int
	SessionIndex  int
	Time          time.Time
	ForceBooked   bool
}

// ReserveAdvance scans sessions in order for the first bookable slot at or
// after requestedTime that is neither occupied nor inside the walk-in reserve,
// then holds it in the ledger. exclude skips that appointment's own slot when
// counting capacity (rescheduling must not self-block).
func (a *Allocator) ReserveAdvance(ctx context.Context, doc *schedule.Doctor, date time.Time, requestedTime *time.Time, requestedSlot *int, exclude *uuid.UUID) (*Reservation, error) {
	now := a.clk.Now()
	dateKey := schedule.DateKey(date)

	appts, err := a.repo.ListAppointments(ctx, doc.ClinicID, doc.ID, dateKey)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	capacity := PlanDay(doc, date, now, appts)
	booked, err := a.repo.CountActiveAdvance(ctx, doc.ClinicID, doc.ID, dateKey, exclude)
	if err != nil {
		return nil, fmt.Errorf("count advance appointments: %w", err)
	}
	if booked >= capacity.TotalAvailableForAdvance() {
		return nil, ErrAdvanceCapacityReached
	}

	occupied := occupiedSlots(appts, exclude)

	earliest := now
	if requestedTime != nil && requestedTime.After(now) {
		earliest = *requestedTime
	}

	var chosen *schedule.Slot
	for _, slot := range schedule.SlotsFor(doc, date) {
		if slot.OnLeave || slot.Time.Before(earliest) {
			continue
		}
		if requestedSlot != nil && slot.GlobalIndex != *requestedSlot {
			continue
		}
		if _, taken := occupied[slot.GlobalIndex]; taken {
			continue
		}
		if capacity.ReservedForWalkIn(slot.GlobalIndex) {
			continue
		}
		s := slot
		chosen = &s
		break
	}
	if chosen == nil {
		return nil, ErrSlotOccupied
	}

	return a.hold(ctx, doc, dateKey, *chosen, ChannelAdvance, false)
}

// ReserveWalkIn draws from the trailing walk-in reserve of the currently
// active session, falling back to any free future slot of that session when
// the reserve is empty. When nothing remains, force appends a bounded
// overflow slot after the last regular slot; force-book is always an explicit
// caller decision, never automatic.
func (a *Allocator) ReserveWalkIn(ctx context.Context, doc *schedule.Doctor, date time.Time, force bool) (*Reservation, error) {
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

	chosen, exhausted := pickWalkInSlot(doc, date, now, session, appts, 0)
	if exhausted {
		if !force {
			return nil, ErrWalkInExhausted
		}
		slot, err := a.overflowSlot(doc, date, session, appts)
		if err != nil {
			return nil, err
		}
		return a.hold(ctx, doc, dateKey, *slot, ChannelWalkIn, true)
	}

	return a.hold(ctx, doc, dateKey, *chosen, ChannelWalkIn, false)
}

// pickWalkInSlot selects the walk-in slot a request (or preview) would get,
// skipping `spacing` earlier candidates. exhausted means the session has no
// regular slot left for this request.
func pickWalkInSlot(doc *schedule.Doctor, date time.Time, now time.Time, session schedule.Session, appts []Appointment, spacing int) (*schedule.Slot, bool) {
	capacity := PlanDay(doc, date, now, appts)

	candidates := capacity.WalkInSlots(session.Index)
	if len(candidates) == 0 {
		candidates = capacity.FreeSlots(session.Index)
	}
	if spacing < 0 {
		spacing = 0
	}
	if spacing >= len(candidates) {
		return nil, true
	}
	slot := candidates[spacing]
	return &slot, false
}

// overflowSlot appends a force-booked slot after the day's last regular slot.
func (a *Allocator) overflowSlot(doc *schedule.Doctor, date time.Time, session schedule.Session, appts []Appointment) (*schedule.Slot, error) {
	overflow := 0
	for _, appt := range appts {
		if appt.ForceBooked && appt.SessionIndex == session.Index && appt.Status.Active() {
			overflow++
		}
	}
	if overflow >= a.opts.MaxOverflowSlots {
		return nil, ErrOverflowLimitReached
	}

	slots := schedule.SlotsFor(doc, date)
	if len(slots) == 0 {
		return nil, ErrWalkInClosed
	}
	last := slots[len(slots)-1]

	width := doc.SlotWidth()
	return &schedule.Slot{
		GlobalIndex:  last.GlobalIndex + 1 + overflow,
		SessionIndex: session.Index,
		Time:         last.Time.Add(time.Duration(overflow+1) * width),
	}, nil
}

// hold creates the held ledger entry for the chosen slot under the per-slot
// lock and returns the reservation with its display token.
func (a *Allocator) hold(ctx context.Context, doc *schedule.Doctor, dateKey string, slot schedule.Slot, via Channel, forceBooked bool) (*Reservation, error) {
	res := SlotReservation{
		ID:         uuid.New(),
		ClinicID:   doc.ClinicID,
		DoctorID:   doc.ID,
		DoctorName: doc.Name,
		Date:       dateKey,
		SlotIndex:  slot.GlobalIndex,
		Status:     ReservationHeld,
	}

	key := redisclient.SlotLockKey(doc.ClinicID, doc.ID, dateKey, slot.GlobalIndex)
	err := a.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		return a.repo.CreateReservation(lockCtx, res)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotOccupied
		}
		return nil, err
	}

	prefix := "A"
	if via == ChannelWalkIn {
		prefix = "W"
	}
	numeric := slot.GlobalIndex + 1

	return &Reservation{
		ReservationID: res.ID,
		TokenNumber:   fmt.Sprintf("%s-%03d", prefix, numeric),
		NumericToken:  numeric,
		SlotIndex:     slot.GlobalIndex,
		SessionIndex:  slot.SessionIndex,
		Time:          slot.Time,
		ForceBooked:   forceBooked,
	}, nil
}

func occupiedSlots(appts []Appointment, exclude *uuid.UUID) map[int]struct{} {
	occupied := make(map[int]struct{}, len(appts))
	for _, appt := range appts {
		if exclude != nil && appt.ID == *exclude {
			continue
		}
		if appt.Status.Active() {
			occupied[appt.SlotIndex] = struct{}{}
		}
	}
	return occupied
}
