package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockline-erp/stockline/internal/platform/db"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Repository provides PostgreSQL backed notification persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const notificationColumns = `id, COALESCE(recipient_role,''), COALESCE(recipient_id,''), type, message, COALESCE(reference,''), read, COALESCE(dispatched_at, 'epoch'::timestamptz), created_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	var role string
	err := row.Scan(&n.ID, &role, &n.RecipientID, &n.Type, &n.Message, &n.Reference, &n.Read, &n.DispatchedAt, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, shared.ErrNotFound
		}
		return Notification{}, err
	}
	n.RecipientRole = shared.Role(role)
	if n.DispatchedAt.Unix() == 0 {
		n.DispatchedAt = time.Time{}
	}
	return n, nil
}

// Insert appends a notification.
func (r *Repository) Insert(ctx context.Context, n Notification) error {
	q := db.QuerierFromContext(ctx, r.pool)
	_, err := q.Exec(ctx, `INSERT INTO notifications (id, recipient_role, recipient_id, type, message, reference, read, created_at)
VALUES ($1,NULLIF($2,''),NULLIF($3,''),$4,$5,NULLIF($6,''),$7,$8)`,
		n.ID, string(n.RecipientRole), n.RecipientID, n.Type, n.Message, n.Reference, n.Read, n.CreatedAt)
	return err
}

// Get returns one notification.
func (r *Repository) Get(ctx context.Context, id string) (Notification, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	return scanNotification(q.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id=$1`, id))
}

// List returns the inbox page for a role/recipient pair, newest first.
func (r *Repository) List(ctx context.Context, role shared.Role, recipientID string, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	where := `WHERE (recipient_role = $1 OR recipient_id = $2) AND (NOT $3 OR NOT read)`
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where, string(role), recipientID, unreadOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+notificationColumns+` FROM notifications `+where+` ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		string(role), recipientID, unreadOnly, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// UnreadExists reports whether an unread duplicate already sits in the inbox.
func (r *Repository) UnreadExists(ctx context.Context, notificationType, reference string, role shared.Role, recipientID string) (bool, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications
WHERE type=$1 AND reference=$2 AND COALESCE(recipient_role,'')=$3 AND COALESCE(recipient_id,'')=$4 AND NOT read)`,
		notificationType, reference, string(role), recipientID).Scan(&exists)
	return exists, err
}

// MarkRead marks one notification read.
func (r *Repository) MarkRead(ctx context.Context, id string) error {
	q := db.QuerierFromContext(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE notifications SET read=TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkAllRead marks a whole inbox read and returns the count.
func (r *Repository) MarkAllRead(ctx context.Context, role shared.Role, recipientID string) (int64, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE notifications SET read=TRUE WHERE (recipient_role = $1 OR recipient_id = $2) AND NOT read`,
		string(role), recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkDispatched stamps a successful delivery.
func (r *Repository) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	q := db.QuerierFromContext(ctx, r.pool)
	_, err := q.Exec(ctx, `UPDATE notifications SET dispatched_at=$1 WHERE id=$2`, at, id)
	return err
}

// ListUndispatched returns notifications never handed to the queue.
func (r *Repository) ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]Notification, error) {
	q := db.QuerierFromContext(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+notificationColumns+` FROM notifications
WHERE dispatched_at IS NULL AND created_at < $1 ORDER BY created_at LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
