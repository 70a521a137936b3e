package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/availability"
	"github.com/hackgods/medibook/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, patient_id, doctor_id, appointment_date, duration_minutes, status, type,
	reason, notes, payment_status, payment_reference, reminder_sent_at, created_at, updated_at`

func scanDoctorRef(row pgx.Row) (*DoctorRef, error) {
	var d DoctorRef

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.IsAcceptingPatients,
		&d.ConsultationFee,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AppointmentDate,
		&a.DurationMinutes,
		&a.Status,
		&a.Type,
		&a.Reason,
		&a.Notes,
		&a.PaymentStatus,
		&a.PaymentReference,
		&a.ReminderSentAt,
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

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
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

// Interface methods

func (r *PgRepository) GetDoctorRef(ctx context.Context, doctorID uuid.UUID) (*DoctorRef, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, is_accepting_patients, consultation_fee
		FROM doctors
		WHERE id = $1
	`, doctorID)
	return scanDoctorRef(row)
}

func (r *PgRepository) GetDoctorRefByUserID(ctx context.Context, userID uuid.UUID) (*DoctorRef, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, is_accepting_patients, consultation_fee
		FROM doctors
		WHERE user_id = $1
	`, userID)
	return scanDoctorRef(row)
}

func (r *PgRepository) ListDoctorSlots(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]availability.Slot, error) {
	return availability.QueryDoctorDay(ctx, r.pool, doctorID, day)
}

func (r *PgRepository) BookSlot(ctx context.Context, slotID uuid.UUID, appt *Appointment) (*Appointment, error) {
	var created *Appointment

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		slot, err := availability.ScanSlot(tx.QueryRow(ctx, `
			SELECT `+availability.SlotColumns+`
			FROM availability_slots
			WHERE id = $1
			FOR UPDATE
		`, slotID))
		if errors.Is(err, availability.ErrSlotNotFound) {
			return fmt.Errorf("slot %s no longer exists: %w", slotID, apperr.ErrSlotUnavailable)
		}
		if err != nil {
			return fmt.Errorf("lock slot: %w", err)
		}
		if slot.IsBooked {
			return ErrSlotTaken
		}
		if slot.DoctorID != appt.DoctorID {
			return fmt.Errorf("slot %s belongs to another doctor: %w", slotID, ErrSlotTaken)
		}

		created, err = scanAppointment(tx.QueryRow(ctx, `
			INSERT INTO appointments (patient_id, doctor_id, appointment_date, duration_minutes, status, type, reason, payment_status)
			VALUES ($1, $2, $3, $4, 'scheduled', $5, $6, 'pending')
			RETURNING `+appointmentColumns,
			appt.PatientID, appt.DoctorID, appt.AppointmentDate, appt.DurationMinutes, appt.Type, appt.Reason))
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE availability_slots
			SET is_booked = true,
			    appointment_id = $2
			WHERE id = $1
			  AND is_booked = false
		`, slotID, created.ID)
		if err != nil {
			return fmt.Errorf("bind slot: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrSlotTaken
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.PatientID != nil {
		conds = append(conds, "patient_id = "+arg(*f.PatientID))
	}
	if f.DoctorID != nil {
		conds = append(conds, "doctor_id = "+arg(*f.DoctorID))
	}
	if f.Status != nil {
		conds = append(conds, "status = "+arg(*f.Status))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		`+where+`
		ORDER BY appointment_date DESC, id ASC
		LIMIT `+arg(f.Limit)+` OFFSET `+arg(f.Offset),
		args...)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) Cancel(ctx context.Context, id uuid.UUID, from Status) (*Appointment, bool, error) {
	var (
		cancelled *Appointment
		released  bool
	)

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = 'cancelled',
			    updated_at = now()
			WHERE id = $1
			  AND status = $2
			RETURNING `+appointmentColumns,
			id, from))
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrStatusChanged
			}
			return err
		}
		cancelled = a

		tag, err := tx.Exec(ctx, `
			UPDATE availability_slots
			SET is_booked = false,
			    appointment_id = NULL
			WHERE appointment_id = $1
		`, id)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		released = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return cancelled, released, nil
}

func (r *PgRepository) Update(ctx context.Context, id uuid.UUID, from Status, p Patch) (*Appointment, error) {
	args := []any{id, from}
	var sets []string
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.Type != nil {
		set("type", *p.Type)
	}
	if p.Reason != nil {
		set("reason", *p.Reason)
	}
	if p.Notes != nil {
		set("notes", *p.Notes)
	}
	if p.PaymentStatus != nil {
		set("payment_status", *p.PaymentStatus)
	}
	sets = append(sets, "updated_at = now()")

	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns,
		args...))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus, reference *string) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $3,
		    payment_reference = COALESCE($4, payment_reference),
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $2
		RETURNING `+appointmentColumns,
		id, from, to, reference))
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (r *PgRepository) SetPaymentReference(ctx context.Context, id uuid.UUID, reference string) (*Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_reference = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, reference))
}

func (r *PgRepository) FindDueReminders(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND reminder_sent_at IS NULL
		  AND appointment_date > $1
		  AND appointment_date <= $2
		ORDER BY appointment_date ASC, id ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2
		WHERE id = $1
		  AND reminder_sent_at IS NULL
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
