package schedule

import (
	"time"

	"github.com/google/uuid"
)

type ConsultationStatus string

const (
	ConsultationIn  ConsultationStatus = "In"
	ConsultationOut ConsultationStatus = "Out"
)

// SessionWindow is one consultation window on a weekday, wall-clock "15:04".
type SessionWindow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SessionExtension extends a single session's end for one date. The extension
// only applies when NewEndTime is strictly later than the configured end.
type SessionExtension struct {
	SessionIndex    int    `json:"sessionIndex"`
	NewEndTime      string `json:"newEndTime"`
	TotalExtendedBy int    `json:"totalExtendedBy"` // minutes
}

// Interval is an absolute [Start, End) period, used for breaks and leave.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Availability is the persisted per-doctor schedule configuration.
// Weekly is keyed by lowercase weekday name; Extensions and Breaks are keyed
// by date ("2006-01-02").
type Availability struct {
	Weekly     map[string][]SessionWindow    `json:"weekly"`
	Extensions map[string][]SessionExtension `json:"extensions,omitempty"`
	Breaks     map[string][]Interval         `json:"breaks,omitempty"`
	Leaves     []Interval                    `json:"leaves,omitempty"`
}

type Doctor struct {
	ID                    uuid.UUID
	ClinicID              uuid.UUID
	Name                  string
	AverageConsultingMins int
	ConsultationStatus    ConsultationStatus
	Availability          Availability
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SlotWidth is the bookable slot duration derived from the doctor's average
// consulting time.
func (d *Doctor) SlotWidth() time.Duration {
	mins := d.AverageConsultingMins
	if mins <= 0 {
		mins = 15
	}
	return time.Duration(mins) * time.Minute
}

// DateKey formats t the way Availability maps and appointment rows key dates.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func weekdayKey(t time.Time) string {
	switch t.Weekday() {
	case time.Sunday:
		return "sunday"
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	default:
		return "saturday"
	}
}
