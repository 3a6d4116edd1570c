package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/campus-feed-engine/internal/models"
	appErrors "github.com/noah-isme/campus-feed-engine/pkg/errors"
)

func strPtr(s string) *string { return &s }

func student(id, dept string, year models.YearToken) models.User {
	y := year
	return models.User{ID: id, Role: models.RoleStudent, Department: strPtr(dept), Year: &y, Active: true}
}

func faculty(id, dept string) models.User {
	return models.User{ID: id, Role: models.RoleFaculty, Department: strPtr(dept), Active: true}
}

type directoryStub struct {
	mu       sync.Mutex
	users    []models.User
	failures int
	calls    int
}

func (d *directoryStub) fail() error {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return appErrors.WrapAs(appErrors.ErrDirectoryUnavailable, errors.New("connection refused"), "")
	}
	return nil
}

func (d *directoryStub) GetUser(ctx context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return nil, err
	}
	for _, u := range d.users {
		if u.ID == id {
			user := u
			return &user, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
}

func (d *directoryStub) Snapshot(ctx context.Context, spec models.TargetSpec) ([]models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(); err != nil {
		return nil, err
	}
	return append([]models.User(nil), d.users...), nil
}

type notificationKey struct {
	contentType models.ContentType
	contentID   string
	recipientID string
}

// memoryNotifications enforces the natural key like the notifications table does.
// Deleted rows stay behind as tombstones.
type memoryNotifications struct {
	mu      sync.Mutex
	rows    map[notificationKey]*models.Notification
	deleted map[notificationKey]time.Time
	order   []notificationKey
	failFor map[string]int
	creates int
}

func newMemoryNotifications() *memoryNotifications {
	return &memoryNotifications{
		rows:    map[notificationKey]*models.Notification{},
		deleted: map[notificationKey]time.Time{},
		failFor: map[string]int{},
	}
}

func (m *memoryNotifications) live(key notificationKey) bool {
	_, gone := m.deleted[key]
	return !gone
}

func keyOf(row *models.Notification) notificationKey {
	return notificationKey{row.ContentType, row.ContentID, row.RecipientID}
}

func (m *memoryNotifications) visible(ct models.ContentType, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.rows {
		if key.contentType == ct && key.contentID == id && m.live(key) {
			n++
		}
	}
	return n
}

func (m *memoryNotifications) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if left := m.failFor[n.RecipientID]; left > 0 {
		m.failFor[n.RecipientID] = left - 1
		return errors.New("write timeout")
	}
	key := notificationKey{n.ContentType, n.ContentID, n.RecipientID}
	if _, ok := m.rows[key]; ok {
		return appErrors.ErrDuplicateNotification
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	row := *n
	m.rows[key] = &row
	m.order = append(m.order, key)
	return nil
}

func (m *memoryNotifications) Recipients(ctx context.Context, ct models.ContentType, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.rows {
		if key.contentType == ct && key.contentID == id {
			out = append(out, key.recipientID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryNotifications) count(ct models.ContentType, id string) int {
	ids, _ := m.Recipients(context.Background(), ct, id)
	return len(ids)
}

func (m *memoryNotifications) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for i := len(m.order) - 1; i >= 0; i-- {
		row, ok := m.rows[m.order[i]]
		if !ok || !m.live(m.order[i]) || row.RecipientID != filter.RecipientID {
			continue
		}
		if filter.UnreadOnly && row.IsRead {
			continue
		}
		out = append(out, *row)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryNotifications) CountUnread(ctx context.Context, recipientID string) (int, error) {
	rows, _ := m.List(ctx, models.NotificationFilter{RecipientID: recipientID, UnreadOnly: true})
	return len(rows), nil
}

func (m *memoryNotifications) Owners(ctx context.Context, ids []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners := map[string]string{}
	for key, row := range m.rows {
		if !m.live(key) {
			continue
		}
		for _, id := range ids {
			if row.ID == id {
				owners[id] = row.RecipientID
			}
		}
	}
	return owners, nil
}

func (m *memoryNotifications) selected(row *models.Notification, sel models.NotificationSelector) bool {
	if row.RecipientID != sel.RecipientID || !m.live(keyOf(row)) {
		return false
	}
	if sel.All {
		return true
	}
	for _, id := range sel.IDs {
		if row.ID == id {
			return true
		}
	}
	return false
}

func (m *memoryNotifications) MarkRead(ctx context.Context, sel models.NotificationSelector, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if m.selected(row, sel) && !row.IsRead {
			row.IsRead = true
			readAt := at
			row.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (m *memoryNotifications) Delete(ctx context.Context, sel models.NotificationSelector) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now().UTC()
	for key, row := range m.rows {
		if m.selected(row, sel) {
			m.deleted[key] = now
			n++
		}
	}
	return n, nil
}

func (m *memoryNotifications) ReadContentIDs(ctx context.Context, recipientID string, ct models.ContentType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key, row := range m.rows {
		if key.recipientID == recipientID && key.contentType == ct && m.live(key) && row.IsRead {
			out = append(out, key.contentID)
		}
	}
	return out, nil
}

func (m *memoryNotifications) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, row := range m.rows {
		if (row.IsRead || !m.live(key)) && row.CreatedAt.Before(cutoff) {
			delete(m.rows, key)
			delete(m.deleted, key)
			n++
		}
	}
	return n, nil
}

type memoryDispatchLog struct {
	mu   sync.Mutex
	rows map[string]models.DispatchRecord
}

func newMemoryDispatchLog() *memoryDispatchLog {
	return &memoryDispatchLog{rows: map[string]models.DispatchRecord{}}
}

func (l *memoryDispatchLog) Get(ctx context.Context, ct models.ContentType, id string) (*models.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[FanOutJobID(ct, id)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *memoryDispatchLog) Save(ctx context.Context, rec *models.DispatchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := FanOutJobID(rec.ContentType, rec.ContentID)
	if prev, ok := l.rows[key]; ok && prev.Version.After(rec.Version) {
		return nil
	}
	l.rows[key] = *rec
	return nil
}

func (l *memoryDispatchLog) ListIncomplete(ctx context.Context, limit int) ([]models.DispatchRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.DispatchRecord
	for _, rec := range l.rows {
		if !rec.Complete {
			out = append(out, rec)
		}
	}
	return out, nil
}

type publishedSignal struct {
	signal   models.Signal
	audience []string
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []publishedSignal
}

func (r *signalRecorder) Publish(ctx context.Context, sig models.Signal, audience []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, publishedSignal{signal: sig, audience: append([]string(nil), audience...)})
	return nil
}

func (r *signalRecorder) all() []publishedSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedSignal(nil), r.sent...)
}

type contentStub struct {
	mu    sync.Mutex
	items map[string]models.ContentItem
}

func newContentStub(items ...models.ContentItem) *contentStub {
	s := &contentStub{items: map[string]models.ContentItem{}}
	for _, item := range items {
		s.put(item)
	}
	return s
}

func (s *contentStub) put(item models.ContentItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[FanOutJobID(item.Type, item.ID)] = item
}

func (s *contentStub) Get(ctx context.Context, ct models.ContentType, id string) (*models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[FanOutJobID(ct, id)]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "content not found")
	}
	return &item, nil
}

// ListChangedSince returns items of ct after cursor in (updated_at, id) order.
func (s *contentStub) ListChangedSince(ctx context.Context, ct models.ContentType, cursor models.Cursor, limit int) ([]models.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ContentItem
	for _, item := range s.items {
		if item.Type == ct && cursor.After(item.UpdatedAt, item.ID) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
