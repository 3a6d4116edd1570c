package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

// NotificationRepository persists per-user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new instance of NotificationRepository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, recipient_id, content_id, content_type, title, message, is_read, created_at, read_at`

// Create inserts n once per natural key. A conflicting row yields ErrDuplicateNotification
// and leaves the stored row untouched.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, recipient_id, content_id, content_type, title, message, is_read, created_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
ON CONFLICT (content_id, content_type, recipient_id) DO NOTHING
RETURNING id`
	var id string
	err := r.db.QueryRowxContext(ctx, query, n.ID, n.RecipientID, n.ContentID, n.ContentType, n.Title, n.Message, n.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrDuplicateNotification
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	n.ID = id
	return nil
}

// List returns a user's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1 AND deleted_at IS NULL`
	if filter.UnreadOnly {
		query += ` AND is_read = FALSE`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $2`

	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, filter.RecipientID, filter.Limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, nil
}

// CountUnread counts a user's unread notifications.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	const query = `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND deleted_at IS NULL AND is_read = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// Owners returns the recipient of every id that exists and is not deleted.
func (r *NotificationRepository) Owners(ctx context.Context, ids []string) (map[string]string, error) {
	const query = `SELECT id, recipient_id FROM notifications WHERE id = ANY($1) AND deleted_at IS NULL`
	var rows []struct {
		ID          string `db:"id"`
		RecipientID string `db:"recipient_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load notification owners: %w", err)
	}
	owners := make(map[string]string, len(rows))
	for _, row := range rows {
		owners[row.ID] = row.RecipientID
	}
	return owners, nil
}

// MarkRead flags the selected rows as read. Rows of other users are never touched.
func (r *NotificationRepository) MarkRead(ctx context.Context, sel models.NotificationSelector, at time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if sel.All {
		const query = `UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id = $1 AND deleted_at IS NULL AND is_read = FALSE`
		res, err = r.db.ExecContext(ctx, query, sel.RecipientID, at)
	} else {
		const query = `UPDATE notifications SET is_read = TRUE, read_at = $2 WHERE recipient_id = $1 AND id = ANY($3) AND deleted_at IS NULL AND is_read = FALSE`
		res, err = r.db.ExecContext(ctx, query, sel.RecipientID, at, pq.Array(sel.IDs))
	}
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// Delete tombstones the selected rows of the user. Tombstoned rows are hidden from
// every read path but keep the natural key taken, so a later fan-out of the same
// content never hands the notification back.
func (r *NotificationRepository) Delete(ctx context.Context, sel models.NotificationSelector) (int64, error) {
	var (
		res sql.Result
		err error
	)
	at := time.Now().UTC()
	if sel.All {
		const query = `UPDATE notifications SET deleted_at = $2 WHERE recipient_id = $1 AND deleted_at IS NULL`
		res, err = r.db.ExecContext(ctx, query, sel.RecipientID, at)
	} else {
		const query = `UPDATE notifications SET deleted_at = $2 WHERE recipient_id = $1 AND id = ANY($3) AND deleted_at IS NULL`
		res, err = r.db.ExecContext(ctx, query, sel.RecipientID, at, pq.Array(sel.IDs))
	}
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return res.RowsAffected()
}

// Recipients lists users already holding a notification for the content item,
// including rows the user has since deleted.
func (r *NotificationRepository) Recipients(ctx context.Context, contentType models.ContentType, contentID string) ([]string, error) {
	const query = `SELECT recipient_id FROM notifications WHERE content_type = $1 AND content_id = $2`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, contentType, contentID); err != nil {
		return nil, fmt.Errorf("list notification recipients: %w", err)
	}
	return ids, nil
}

// ReadContentIDs lists content ids of the given type the user has already read.
func (r *NotificationRepository) ReadContentIDs(ctx context.Context, recipientID string, contentType models.ContentType) ([]string, error) {
	const query = `SELECT content_id FROM notifications WHERE recipient_id = $1 AND content_type = $2 AND deleted_at IS NULL AND is_read = TRUE`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, recipientID, contentType); err != nil {
		return nil, fmt.Errorf("list read content ids: %w", err)
	}
	return ids, nil
}

// DeleteReadBefore purges read notifications and tombstones older than cutoff.
func (r *NotificationRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM notifications WHERE (is_read = TRUE OR deleted_at IS NOT NULL) AND created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge read notifications: %w", err)
	}
	return res.RowsAffected()
}
