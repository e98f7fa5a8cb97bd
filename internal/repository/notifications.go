package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"svc-steward.io/steward/internal/domain"
)

const notificationColumns = `id, recipient_id, type, title, body, metadata, read_at, created_at`

// NotificationRepo persists in-app inbox entries.
type NotificationRepo struct {
	pool *pgxpool.Pool
}

// NewNotificationRepo creates a notification repository backed by pool.
func NewNotificationRepo(pool *pgxpool.Pool) *NotificationRepo {
	return &NotificationRepo{pool: pool}
}

// Insert stores one inbox entry.
func (r *NotificationRepo) Insert(ctx context.Context, n *domain.Notification) error {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, body, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		n.ID, n.RecipientID, n.Type, n.Title, n.Body, meta,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// List returns one inbox page for a recipient, newest first, along with the
// recipient's total and unread counts.
func (r *NotificationRepo) List(ctx context.Context, recipientID string, unreadOnly bool, limit, offset int) (*domain.NotificationList, error) {
	list := &domain.NotificationList{Items: []*domain.Notification{}}

	if err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE read_at IS NULL)
		FROM notifications WHERE recipient_id = $1`,
		recipientID,
	).Scan(&list.Total, &list.Unread); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE recipient_id = $1 AND ($2 = FALSE OR read_at IS NULL)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		recipientID, unreadOnly, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.RecipientID, &n.Type, &n.Title, &n.Body,
			&n.Metadata, &n.ReadAt, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list.Items = append(list.Items, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkRead acknowledges one entry for its recipient. Idempotent: marking
// an already-read entry keeps its original read_at. Reports false only
// when the entry does not exist or belongs to someone else.
func (r *NotificationRepo) MarkRead(ctx context.Context, id, recipientID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND recipient_id = $2`,
		id, recipientID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllRead acknowledges every unread entry for a recipient.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET read_at = now()
		WHERE recipient_id = $1 AND read_at IS NULL`,
		recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOlderThan removes entries created before the cutoff. The cleanup
// job uses it to keep the inbox table bounded.
func (r *NotificationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
