package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

func TestReconcilerRepairsPartialFanOut(t *testing.T) {
	f := newDispatcherFixture(fiveStudents()...)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	item := csAssignment("2nd")
	f.store.failFor["s3"] = 1

	_, err := f.svc.Dispatch(context.Background(), item, DispatchOptions{})
	require.Error(t, err)
	assert.Equal(t, 2, f.store.count(item.Type, item.ID))

	signals := &signalRecorder{}
	rec := NewReconciler(newContentStub(item), f.log, f.svc, signals, nil, nil, ReconcilerConfig{Window: 24 * time.Hour, PageSize: 10})
	rec.now = func() time.Time { return now }

	summary, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Items)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 3, f.store.count(item.Type, item.ID))
	require.Len(t, signals.all(), 1)

	summary, err = rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Len(t, signals.all(), 1)
}

func TestReconcilerPicksUpIncompleteOutsideWindow(t *testing.T) {
	f := newDispatcherFixture(fiveStudents()...)
	item := csAssignment("2nd")
	f.store.failFor["s1"] = 1
	_, err := f.svc.Dispatch(context.Background(), item, DispatchOptions{})
	require.Error(t, err)

	rec := NewReconciler(newContentStub(item), f.log, f.svc, nil, nil, nil, ReconcilerConfig{Window: time.Hour, PageSize: 10})
	rec.now = func() time.Time { return item.UpdatedAt.Add(48 * time.Hour) }

	summary, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Items)
	assert.Equal(t, 3, f.store.count(item.Type, item.ID))

	stored, _ := f.log.Get(context.Background(), item.Type, item.ID)
	assert.True(t, stored.Complete)
}

func TestReconcilerPagesThroughWindow(t *testing.T) {
	f := newDispatcherFixture(fiveStudents()...)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	content := newContentStub()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		item := csAssignment("2nd")
		item.ID = id
		item.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		content.put(item)
	}
	draft := csAssignment("2nd")
	draft.ID = "z"
	draft.Status = models.StatusDraft
	draft.UpdatedAt = base
	content.put(draft)

	rec := NewReconciler(content, f.log, f.svc, nil, nil, nil, ReconcilerConfig{PageSize: 2, Types: []models.ContentType{models.ContentAssignment}})
	rec.now = func() time.Time { return base.Add(time.Hour) }

	summary, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Items)
	assert.Equal(t, 15, summary.Created)
	assert.Equal(t, 0, f.store.count(models.ContentAssignment, "z"))
}

func TestReconcilerLeavesDeletedNotificationsDeleted(t *testing.T) {
	f := newDispatcherFixture(fiveStudents()...)
	item := csAssignment("2nd")
	_, err := f.svc.Dispatch(context.Background(), item, DispatchOptions{})
	require.NoError(t, err)

	deleted, err := f.store.Delete(context.Background(), models.NotificationSelector{RecipientID: "s2", All: true})
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	signals := &signalRecorder{}
	rec := NewReconciler(newContentStub(item), f.log, f.svc, signals, nil, nil, ReconcilerConfig{Window: 24 * time.Hour, PageSize: 10})
	rec.now = func() time.Time { return item.UpdatedAt.Add(time.Hour) }

	summary, err := rec.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Created)
	assert.Empty(t, signals.all())
	assert.Equal(t, 2, f.store.visible(item.Type, item.ID))

	inbox, err := f.store.List(context.Background(), models.NotificationFilter{RecipientID: "s2"})
	require.NoError(t, err)
	assert.Empty(t, inbox)
}
