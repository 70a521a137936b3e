package notification

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medibook/internal/apperr"
)

var ErrNotificationNotFound = apperr.Kind("notification", apperr.ErrNotFound)

type Repository interface {
	Create(ctx context.Context, n *Notification) (*Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error)
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const notificationColumns = `id, user_id, type, title, message, data, is_read, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var data []byte

	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.IsRead, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		n.Data = json.RawMessage(data)
	}
	return &n, nil
}

func (r *PgRepository) Create(ctx context.Context, n *Notification) (*Notification, error) {
	var data []byte
	if len(n.Data) > 0 {
		data = n.Data
	}
	return scanNotification(r.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+notificationColumns,
		n.UserID, n.Type, n.Title, n.Message, data))
}

func (r *PgRepository) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		  AND ($2 = false OR is_read = false)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkRead flips is_read for a notification owned by userID.
func (r *PgRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) (*Notification, error) {
	return scanNotification(r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1 AND user_id = $2
		RETURNING `+notificationColumns,
		id, userID))
}
