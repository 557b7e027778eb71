package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opdqueue/token-engine/internal/schedule"
)

type PgRepository struct {
	pool    *pgxpool.Pool
	holdTTL time.Duration
}

// NewPgRepository wraps the pool. holdTTL bounds how long a held reservation
// without a committed appointment keeps blocking its slot; a stale hold is
// simply superseded by a newer row, never deleted.
func NewPgRepository(pool *pgxpool.Pool, holdTTL time.Duration) *PgRepository {
	return &PgRepository{pool: pool, holdTTL: holdTTL}
}

// Helpers

const appointmentColumns = `
	id, clinic_id, doctor_id, doctor_name, patient_name, date, time,
	slot_index, session_index, booked_via, status, token_number,
	numeric_token, classic_token, is_priority, priority_set_at, in_buffer,
	buffer_entered_at, force_booked, cut_off_time, no_show_time,
	arrive_by_time, delay_mins, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.DoctorName,
		&a.PatientName,
		&a.Date,
		&a.Time,
		&a.SlotIndex,
		&a.SessionIndex,
		&a.BookedVia,
		&a.Status,
		&a.TokenNumber,
		&a.NumericToken,
		&a.ClassicToken,
		&a.IsPriority,
		&a.PrioritySetAt,
		&a.InBuffer,
		&a.BufferEnteredAt,
		&a.ForceBooked,
		&a.CutOffTime,
		&a.NoShowTime,
		&a.ArriveByTime,
		&a.DelayMins,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanReservation(row pgx.Row) (*SlotReservation, error) {
	var r SlotReservation

	err := row.Scan(
		&r.ID,
		&r.ClinicID,
		&r.DoctorID,
		&r.DoctorName,
		&r.Date,
		&r.SlotIndex,
		&r.Status,
		&r.AppointmentID,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	return &r, nil
}

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, token_distribution, created_at, updated_at
		FROM clinics
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.TokenDistribution, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*schedule.Doctor, error) {
	var d schedule.Doctor
	var availability []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, availability, average_consulting_time,
		       consultation_status, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&availability,
		&d.AverageConsultingMins,
		&d.ConsultationStatus,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &d.Availability); err != nil {
			return nil, fmt.Errorf("decode doctor availability: %w", err)
		}
	}

	return &d, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, clinicID, doctorID uuid.UUID, date string) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3
		ORDER BY slot_index
	`, clinicID, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CountActiveAdvance(ctx context.Context, clinicID, doctorID uuid.UUID, date string, exclude *uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3
		  AND booked_via = 'advance'
		  AND status IN ('pending', 'confirmed', 'completed')
		  AND ($4::uuid IS NULL OR id <> $4)
	`, clinicID, doctorID, date, exclude).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CreateReservation appends a held ledger entry unless a live one blocks the
// slot: a held row younger than the hold TTL, or a booked row whose
// appointment still actively occupies this slot. Stale holds and rows for
// cancelled or shifted appointments are superseded, never deleted, so a
// concurrent reader always sees either no live entry or a blocking one.
func (r *PgRepository) CreateReservation(ctx context.Context, res SlotReservation) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO slot_reservations
			(id, clinic_id, doctor_id, doctor_name, date, slot_index, status, created_at)
		SELECT $1, $2, $3, $4, $5, $6, 'held', now()
		WHERE NOT EXISTS (
			SELECT 1 FROM slot_reservations sr
			WHERE sr.clinic_id = $2 AND sr.doctor_id = $3 AND sr.date = $5 AND sr.slot_index = $6
			  AND (
				(sr.status = 'held' AND sr.created_at > now() - $7::interval)
				OR (sr.status = 'booked' AND EXISTS (
					SELECT 1 FROM appointments a
					WHERE a.id = sr.appointment_id
					  AND a.slot_index = sr.slot_index
					  AND a.status IN ('pending', 'confirmed')
				))
			  )
		)
	`, res.ID, res.ClinicID, res.DoctorID, res.DoctorName, res.Date, res.SlotIndex,
		durationInterval(r.holdTTL))
	if err != nil {
		return fmt.Errorf("insert slot reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotOccupied
	}
	return nil
}

func (r *PgRepository) CommitAppointment(ctx context.Context, reservationID uuid.UUID, appt *Appointment, classicCounterID string) (*Appointment, error) {
	var created *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, clinic_id, doctor_id, doctor_name, date, slot_index,
			       status, appointment_id, created_at
			FROM slot_reservations
			WHERE id = $1
			FOR UPDATE
		`, reservationID)

		res, err := scanReservation(row)
		if err != nil {
			return err
		}
		if res.Status != ReservationHeld {
			return ErrSlotAlreadyBooked
		}
		if res.SlotIndex != appt.SlotIndex ||
			res.ClinicID != appt.ClinicID ||
			res.DoctorName != appt.DoctorName {
			return ErrReservationMismatch
		}

		var occupied bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM appointments
				WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3
				  AND slot_index = $4 AND status IN ('pending', 'confirmed')
			)
		`, appt.ClinicID, appt.DoctorID, appt.Date, appt.SlotIndex).Scan(&occupied)
		if err != nil {
			return fmt.Errorf("check slot occupancy: %w", err)
		}
		if occupied {
			return ErrSlotAlreadyBooked
		}

		if classicCounterID != "" {
			n, err := nextClassicToken(ctx, tx, classicCounterID)
			if err != nil {
				return err
			}
			appt.ClassicToken = &n
		}

		row = tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, clinic_id, doctor_id, doctor_name, patient_name, date, time,
				 slot_index, session_index, booked_via, status, token_number,
				 numeric_token, classic_token, is_priority, in_buffer,
				 force_booked, cut_off_time, no_show_time, arrive_by_time,
				 delay_mins, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        false, false, $15, $16, $17, $18, 0, now(), now())
			RETURNING `+appointmentColumns+`
		`, appt.ID, appt.ClinicID, appt.DoctorID, appt.DoctorName, appt.PatientName,
			appt.Date, appt.Time, appt.SlotIndex, appt.SessionIndex, appt.BookedVia,
			appt.Status, appt.TokenNumber, appt.NumericToken, appt.ClassicToken,
			appt.ForceBooked, appt.CutOffTime, appt.NoShowTime, appt.ArriveByTime)

		created, err = scanAppointment(row)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE slot_reservations
			SET status = 'booked', appointment_id = $2
			WHERE id = $1
		`, reservationID, created.ID)
		if err != nil {
			return fmt.Errorf("finalize slot reservation: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ConfirmArrival(ctx context.Context, id uuid.UUID, classicCounterID string) (*Appointment, error) {
	var confirmed *Appointment

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'confirmed',
			    updated_at = now()
			WHERE id = $1
			  AND status = 'pending'
			RETURNING `+appointmentColumns+`
		`, id)

		appt, err := scanAppointment(row)
		if err != nil {
			return err
		}

		if classicCounterID != "" {
			n, err := nextClassicToken(ctx, tx, classicCounterID)
			if err != nil {
				return err
			}
			appt.ClassicToken = &n

			_, err = tx.Exec(ctx, `
				UPDATE appointments SET classic_token = $2 WHERE id = $1
			`, id, n)
			if err != nil {
				return fmt.Errorf("assign classic token: %w", err)
			}
		}

		confirmed = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	return confirmed, nil
}

// nextClassicToken bumps the per-session arrival counter inside the caller's
// transaction, so two concurrent confirmations always get distinct
// consecutive numbers.
func nextClassicToken(ctx context.Context, tx pgx.Tx, counterID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
		INSERT INTO token_counters (counter_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (counter_id)
		DO UPDATE SET next_number = token_counters.next_number + 1
		RETURNING next_number
	`, counterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("bump classic token counter: %w", err)
	}
	return n, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, appt *Appointment) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET time = $2,
		    slot_index = $3,
		    session_index = $4,
		    token_number = $5,
		    numeric_token = $6,
		    is_priority = $7,
		    priority_set_at = $8,
		    in_buffer = $9,
		    buffer_entered_at = $10,
		    cut_off_time = $11,
		    no_show_time = $12,
		    arrive_by_time = $13,
		    delay_mins = $14,
		    updated_at = now()
		WHERE id = $1
	`, appt.ID, appt.Time, appt.SlotIndex, appt.SessionIndex, appt.TokenNumber,
		appt.NumericToken, appt.IsPriority, appt.PrioritySetAt, appt.InBuffer,
		appt.BufferEnteredAt, appt.CutOffTime, appt.NoShowTime, appt.ArriveByTime,
		appt.DelayMins)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ShiftSlotIndexes(ctx context.Context, clinicID, doctorID uuid.UUID, date string, afterSlot int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET slot_index = slot_index - 1,
		    updated_at = now()
		WHERE clinic_id = $1 AND doctor_id = $2 AND date = $3
		  AND slot_index > $4
		  AND status IN ('pending', 'confirmed')
	`, clinicID, doctorID, date, afterSlot)
	if err != nil {
		return fmt.Errorf("shift slot indexes: %w", err)
	}
	return nil
}

func (r *PgRepository) FindPastCutoff(ctx context.Context, clinicID uuid.UUID, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE clinic_id = $1
		  AND status = 'pending'
		  AND cut_off_time < $2
	`, clinicID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func durationInterval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int(d.Seconds()))
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
