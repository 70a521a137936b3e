package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/db"
	"github.com/hackgods/medibook/internal/user"
)

var (
	ErrDoctorNotFound      = apperr.Kind("doctor", apperr.ErrNotFound)
	ErrAppointmentNotFound = apperr.Kind("appointment", apperr.ErrNotFound)
	ErrAlreadyReviewed     = fmt.Errorf("appointment already reviewed: %w", apperr.ErrConflict)
)

const appointmentReviewIndex = "reviews_appointment_uidx"

// Repository is the review storage. WithTx hands fn a repository bound to a
// single transaction; the doctor row is locked for the rest of it by
// LockDoctor so concurrent recomputes serialize.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	Insert(ctx context.Context, r *Review) (*Review, error)
	ListRatings(ctx context.Context, doctorID uuid.UUID) ([]int, error)
	UpdateDoctorAggregate(ctx context.Context, doctorID uuid.UUID, agg Aggregate) error

	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit int) ([]Review, error)
	GetAppointmentRef(ctx context.Context, appointmentID uuid.UUID) (*AppointmentRef, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    db.Querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PgRepository{pool: r.pool, q: tx})
	})
}

func (r *PgRepository) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	var id uuid.UUID
	err := r.q.QueryRow(ctx, `SELECT id FROM doctors WHERE id = $1 FOR UPDATE`, doctorID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDoctorNotFound
		}
		return err
	}
	return nil
}

const reviewColumns = `r.id, r.patient_id, r.doctor_id, r.appointment_id, r.rating, r.comment, r.created_at`

func scanReview(row pgx.Row, extra ...any) (*Review, error) {
	var rv Review
	dest := append([]any{&rv.ID, &rv.PatientID, &rv.DoctorID, &rv.AppointmentID, &rv.Rating, &rv.Comment, &rv.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *PgRepository) Insert(ctx context.Context, in *Review) (*Review, error) {
	rv, err := scanReview(r.q.QueryRow(ctx, `
		INSERT INTO reviews AS r (patient_id, doctor_id, appointment_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+reviewColumns,
		in.PatientID, in.DoctorID, in.AppointmentID, in.Rating, in.Comment))
	if err != nil {
		if db.IsUniqueViolation(err, appointmentReviewIndex) {
			return nil, ErrAlreadyReviewed
		}
		return nil, err
	}
	return rv, nil
}

func (r *PgRepository) ListRatings(ctx context.Context, doctorID uuid.UUID) ([]int, error) {
	rows, err := r.q.Query(ctx, `SELECT rating FROM reviews WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (r *PgRepository) UpdateDoctorAggregate(ctx context.Context, doctorID uuid.UUID, agg Aggregate) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE doctors
		SET rating = $2,
		    review_count = $3,
		    updated_at = now()
		WHERE id = $1
	`, doctorID, agg.Rating, agg.ReviewCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit int) ([]Review, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reviewColumns+`, `+user.Columns("u")+`
		FROM reviews r
		JOIN users u ON u.id = r.patient_id
		WHERE r.doctor_id = $1
		ORDER BY r.created_at DESC, r.id ASC
		LIMIT $2
	`, doctorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Review{}
	for rows.Next() {
		var u user.User
		rv, err := scanReview(rows, user.ScanTargets(&u)...)
		if err != nil {
			return nil, err
		}
		rv.PatientName = u.FullName()
		result = append(result, *rv)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetAppointmentRef(ctx context.Context, appointmentID uuid.UUID) (*AppointmentRef, error) {
	var ref AppointmentRef
	err := r.q.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, status
		FROM appointments
		WHERE id = $1
	`, appointmentID).Scan(&ref.ID, &ref.PatientID, &ref.DoctorID, &ref.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &ref, nil
}
