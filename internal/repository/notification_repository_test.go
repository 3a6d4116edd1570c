package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

func TestNotificationCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (content_id, content_type, recipient_id) DO NOTHING")).
		WithArgs("n-1", "stu-1", "asg-1", models.ContentAssignment, "New assignment", "Lab 3", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("n-1"))

	n := &models.Notification{ID: "n-1", RecipientID: "stu-1", ContentID: "asg-1", ContentType: models.ContentAssignment, Title: "New assignment", Message: "Lab 3"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.False(t, n.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery("INSERT INTO notifications").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := repo.Create(context.Background(), &models.Notification{RecipientID: "stu-1", ContentID: "asg-1", ContentType: models.ContentAssignment})
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateNotification))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationCreateFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery("INSERT INTO notifications").WillReturnError(sql.ErrConnDone)

	err := repo.Create(context.Background(), &models.Notification{RecipientID: "stu-1", ContentID: "asg-1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, appErrors.ErrDuplicateNotification))
}

func TestNotificationListUnreadOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "recipient_id", "content_id", "content_type", "title", "message", "is_read", "created_at", "read_at"}).
		AddRow("n-2", "stu-1", "ann-1", "announcement", "Holiday", "", false, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE recipient_id = $1 AND deleted_at IS NULL AND is_read = FALSE ORDER BY created_at DESC, id DESC LIMIT $2")).
		WithArgs("stu-1", 10).
		WillReturnRows(rows)

	items, err := repo.List(context.Background(), models.NotificationFilter{RecipientID: "stu-1", UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ContentAnnouncement, items[0].ContentType)
	assert.Nil(t, items[0].ReadAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationCountUnread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND deleted_at IS NULL AND is_read = FALSE")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountUnread(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func TestNotificationMarkReadScopedToRecipient(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	at := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("WHERE recipient_id = $1 AND id = ANY($3) AND deleted_at IS NULL AND is_read = FALSE")).
		WithArgs("stu-1", at, pq.Array([]string{"n-1", "n-2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.MarkRead(context.Background(), models.NotificationSelector{RecipientID: "stu-1", IDs: []string{"n-1", "n-2"}}, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationDeleteAll(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET deleted_at = $2 WHERE recipient_id = $1 AND deleted_at IS NULL")).
		WithArgs("stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.Delete(context.Background(), models.NotificationSelector{RecipientID: "stu-1", All: true})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestNotificationDeleteSelectedTombstones(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET deleted_at = $2 WHERE recipient_id = $1 AND id = ANY($3) AND deleted_at IS NULL")).
		WithArgs("stu-1", sqlmock.AnyArg(), pq.Array([]string{"n-1"})).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Delete(context.Background(), models.NotificationSelector{RecipientID: "stu-1", IDs: []string{"n-1"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRecipientsIncludeTombstones(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT recipient_id FROM notifications WHERE content_type = $1 AND content_id = $2")).
		WithArgs(models.ContentAnnouncement, "ann-1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id"}).AddRow("stu-1").AddRow("stu-2"))

	ids, err := repo.Recipients(context.Background(), models.ContentAnnouncement, "ann-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1", "stu-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationOwners(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, recipient_id FROM notifications WHERE id = ANY($1) AND deleted_at IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_id"}).AddRow("n-1", "stu-1").AddRow("n-2", "stu-9"))

	owners, err := repo.Owners(context.Background(), []string{"n-1", "n-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n-1": "stu-1", "n-2": "stu-9"}, owners)
}

func TestNotificationDeleteReadBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE (is_read = TRUE OR deleted_at IS NOT NULL) AND created_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteReadBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
