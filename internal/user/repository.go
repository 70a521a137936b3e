package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/apperr"
)

var ErrUserNotFound = apperr.Kind("user", apperr.ErrNotFound)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Columns selects a user row with the given table alias, in Scan order.
func Columns(alias string) string {
	p := alias + "."
	return p + "id, " + p + "email, " + p + "first_name, " + p + "last_name, " + p + "phone, " +
		p + "role, " + p + "is_verified, " + p + "created_at, " + p + "updated_at"
}

// ScanTargets returns pointers into u in Columns order.
func ScanTargets(u *User) []any {
	return []any{&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt}
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT `+Columns("u")+`
		FROM users u
		WHERE u.id = $1
	`, id).Scan(ScanTargets(&u)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
