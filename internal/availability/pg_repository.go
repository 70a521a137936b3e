package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// SlotColumns lists availability_slots columns in ScanSlot order.
const SlotColumns = `id, doctor_id, slot_date, start_time, end_time, is_booked, appointment_id, created_at`

// ScanSlot reads one row selected with SlotColumns.
func ScanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.AppointmentID,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CollectSlots drains rows selected with SlotColumns.
func CollectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	result := []Slot{}
	for rows.Next() {
		s, err := ScanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// QueryDoctorDay reads every slot of a doctor on a calendar day, booked or not.
func QueryDoctorDay(ctx context.Context, q db.Querier, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	rows, err := q.Query(ctx, `
		SELECT `+SlotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND slot_date = $2::date
		ORDER BY start_time ASC, id ASC
	`, doctorID, day.Format(DateLayout))
	if err != nil {
		return nil, err
	}
	return CollectSlots(rows)
}

func (r *PgRepository) ListByDoctorDay(ctx context.Context, doctorID uuid.UUID, day time.Time) ([]Slot, error) {
	return QueryDoctorDay(ctx, r.pool, doctorID, day)
}

func (r *PgRepository) ListByDoctorRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+SlotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time ASC, id ASC
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return CollectSlots(rows)
}

func (r *PgRepository) CreateSlots(ctx context.Context, doctorID uuid.UUID, loc *time.Location, ranges []SlotRange) ([]Slot, error) {
	created := make([]Slot, 0, len(ranges))

	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, rg := range ranges {
			day := DayOf(rg.Start, loc)
			s, err := ScanSlot(tx.QueryRow(ctx, `
				INSERT INTO availability_slots (doctor_id, slot_date, start_time, end_time, is_booked)
				VALUES ($1, $2::date, $3, $4, false)
				RETURNING `+SlotColumns,
				doctorID, day.Format(DateLayout), rg.Start, rg.End))
			if err != nil {
				return fmt.Errorf("insert slot %s: %w", rg.Start.Format(time.RFC3339), err)
			}
			created = append(created, *s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
