package doctor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/apperr"
	"github.com/hackgods/medibook/internal/db"
	"github.com/hackgods/medibook/internal/user"
)

var (
	ErrDoctorNotFound = apperr.Kind("doctor", apperr.ErrNotFound)
	ErrProfileExists  = fmt.Errorf("user already has a doctor profile: %w", apperr.ErrConflict)
)

const userUniqueConstraint = "doctors_user_id_key"

type Repository interface {
	Search(ctx context.Context, f SearchFilter) ([]DoctorWithUser, error)
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorWithUser, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorWithUser, error)
	Create(ctx context.Context, in ProfileInput) (*Doctor, error)
	Update(ctx context.Context, id uuid.UUID, p ProfilePatch) (*Doctor, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const doctorColumns = `d.id, d.user_id, d.specialty, d.license_number, d.experience_years, d.education,
	d.languages, d.bio, d.clinic_name, d.clinic_address, d.latitude, d.longitude,
	d.consultation_fee, d.rating, d.review_count, d.is_accepting_patients,
	d.services_offered, d.insurances_accepted, d.availability_schedule, d.created_at, d.updated_at`

func doctorTargets(d *Doctor, schedule *[]byte) []any {
	return []any{
		&d.ID, &d.UserID, &d.Specialty, &d.LicenseNumber, &d.ExperienceYears, &d.Education,
		&d.Languages, &d.Bio, &d.ClinicName, &d.ClinicAddress, &d.Latitude, &d.Longitude,
		&d.ConsultationFee, &d.Rating, &d.ReviewCount, &d.IsAcceptingPatients,
		&d.ServicesOffered, &d.InsurancesAccepted, schedule, &d.CreatedAt, &d.UpdatedAt,
	}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var schedule []byte
	if err := row.Scan(doctorTargets(&d, &schedule)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	d.AvailabilitySchedule = schedule
	return &d, nil
}

// scanDoctorWithUser reads doctorColumns, user.Columns("u") and, when
// withDistance is set, a trailing distance column.
func scanDoctorWithUser(row pgx.Row, withDistance bool) (*DoctorWithUser, error) {
	var dw DoctorWithUser
	var schedule []byte
	var distance float64

	dest := append(doctorTargets(&dw.Doctor, &schedule), user.ScanTargets(&dw.User)...)
	if withDistance {
		dest = append(dest, &distance)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	dw.AvailabilitySchedule = schedule
	if withDistance {
		dw.DistanceKm = &distance
	}
	return &dw, nil
}

func (r *PgRepository) Search(ctx context.Context, f SearchFilter) ([]DoctorWithUser, error) {
	q, distance, orderBy := f.build()

	selectList := doctorColumns + ", " + user.Columns("u")
	if distance != "" {
		selectList += ", " + distance + " AS distance_km"
	}

	sql := `
		SELECT ` + selectList + `
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		` + q.whereClause() + `
		ORDER BY ` + orderBy + `
		LIMIT ` + q.arg(f.Limit) + ` OFFSET ` + q.arg(f.Offset)

	rows, err := r.pool.Query(ctx, sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []DoctorWithUser{}
	for rows.Next() {
		dw, err := scanDoctorWithUser(rows, distance != "")
		if err != nil {
			return nil, err
		}
		result = append(result, *dw)
	}
	return result, rows.Err()
}

func (r *PgRepository) getOne(ctx context.Context, column string, id uuid.UUID) (*DoctorWithUser, error) {
	return scanDoctorWithUser(r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`, `+user.Columns("u")+`
		FROM doctors d
		JOIN users u ON u.id = d.user_id
		WHERE d.`+column+` = $1
	`, id), false)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*DoctorWithUser, error) {
	return r.getOne(ctx, "id", id)
}

func (r *PgRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorWithUser, error) {
	return r.getOne(ctx, "user_id", userID)
}

func (r *PgRepository) Create(ctx context.Context, in ProfileInput) (*Doctor, error) {
	accepting := true
	if in.IsAcceptingPatients != nil {
		accepting = *in.IsAcceptingPatients
	}
	var schedule []byte
	if len(in.AvailabilitySchedule) > 0 {
		schedule = in.AvailabilitySchedule
	}

	d, err := scanDoctor(r.pool.QueryRow(ctx, `
		INSERT INTO doctors AS d (
			user_id, specialty, license_number, experience_years, education, languages, bio,
			clinic_name, clinic_address, latitude, longitude, consultation_fee,
			is_accepting_patients, services_offered, insurances_accepted, availability_schedule
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+doctorColumns,
		in.UserID, in.Specialty, in.LicenseNumber, in.ExperienceYears, in.Education, nonNil(in.Languages), in.Bio,
		in.ClinicName, in.ClinicAddress, in.Latitude, in.Longitude, in.ConsultationFee,
		accepting, nonNil(in.ServicesOffered), nonNil(in.InsurancesAccepted), schedule,
	))
	if err != nil {
		if db.IsUniqueViolation(err, userUniqueConstraint) {
			return nil, ErrProfileExists
		}
		return nil, err
	}
	return d, nil
}

func (r *PgRepository) Update(ctx context.Context, id uuid.UUID, p ProfilePatch) (*Doctor, error) {
	q := &query{}
	idArg := q.arg(id)

	var sets []string
	set := func(column string, v any) {
		sets = append(sets, column+" = "+q.arg(v))
	}
	if p.Specialty != nil {
		set("specialty", *p.Specialty)
	}
	if p.LicenseNumber != nil {
		set("license_number", *p.LicenseNumber)
	}
	if p.ExperienceYears != nil {
		set("experience_years", *p.ExperienceYears)
	}
	if p.Education != nil {
		set("education", *p.Education)
	}
	if p.Languages != nil {
		set("languages", nonNil(*p.Languages))
	}
	if p.Bio != nil {
		set("bio", *p.Bio)
	}
	if p.ClinicName != nil {
		set("clinic_name", *p.ClinicName)
	}
	if p.ClinicAddress != nil {
		set("clinic_address", *p.ClinicAddress)
	}
	if p.Latitude != nil {
		set("latitude", *p.Latitude)
	}
	if p.Longitude != nil {
		set("longitude", *p.Longitude)
	}
	if p.ConsultationFee != nil {
		set("consultation_fee", *p.ConsultationFee)
	}
	if p.IsAcceptingPatients != nil {
		set("is_accepting_patients", *p.IsAcceptingPatients)
	}
	if p.ServicesOffered != nil {
		set("services_offered", nonNil(*p.ServicesOffered))
	}
	if p.InsurancesAccepted != nil {
		set("insurances_accepted", nonNil(*p.InsurancesAccepted))
	}
	if p.AvailabilitySchedule != nil {
		set("availability_schedule", []byte(*p.AvailabilitySchedule))
	}
	sets = append(sets, "updated_at = now()")

	return scanDoctor(r.pool.QueryRow(ctx, `
		UPDATE doctors AS d
		SET `+strings.Join(sets, ", ")+`
		WHERE d.id = `+idArg+`
		RETURNING `+doctorColumns,
		q.args...))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
