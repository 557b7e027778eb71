package booking

import (
	"fmt"

	"github.com/google/uuid"
)

// ClassicCounterID keys the per-(clinic, doctor, date, session) arrival
// sequence used when a clinic numbers tokens at confirmation time.
func ClassicCounterID(clinicID, doctorID uuid.UUID, date string, sessionIndex int) string {
	return fmt.Sprintf("%s:%s:%s:%d", clinicID, doctorID, date, sessionIndex)
}

// FormatClassicToken renders the patient-visible classic token.
func FormatClassicToken(n int) string {
	return fmt.Sprintf("%03d", n)
}
